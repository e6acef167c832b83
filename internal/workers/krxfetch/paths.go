package krxfetch

import "strings"

// DatasetKey names the payload for a fetched OpenAPI path.
func DatasetKey(category, apiPath string) string {
	return "openapi." + category + "." + strings.ReplaceAll(apiPath, "/", ".")
}
