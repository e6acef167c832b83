// Package registry resolves logical dataset keys to KRX data portal blds.
package registry

import (
	"context"
	"errors"
	"fmt"

	"ipopipe/internal/domain"
	"ipopipe/internal/ports"
)

var ErrDatasetNotFound = errors.New("dataset not found")

type Service struct {
	store ports.Store
}

func NewService(store ports.Store) *Service {
	return &Service{store: store}
}

func (s *Service) Get(ctx context.Context, key string) (domain.DatasetRegistryEntry, error) {
	e, err := s.store.GetDataset(ctx, key)
	if errors.Is(err, ports.ErrNotFound) {
		return e, fmt.Errorf("%w: %s", ErrDatasetNotFound, key)
	}
	return e, err
}

func (s *Service) Register(ctx context.Context, e domain.DatasetRegistryEntry) error {
	if e.DatasetKey == "" || e.Bld == "" {
		return errors.New("dataset_key and bld are required")
	}
	return s.store.UpsertDataset(ctx, e)
}

// Fetch looks up key, calls the portal with params and wraps the response so
// the quality gate can check it against the registry's required params.
func (s *Service) Fetch(ctx context.Context, key string, params map[string]string, fetcher ports.BldFetcher) (domain.KrxDatasetPayload, error) {
	e, err := s.Get(ctx, key)
	if err != nil {
		return domain.KrxDatasetPayload{}, err
	}
	resp, err := fetcher.FetchBld(ctx, e.Bld, params)
	if err != nil {
		return domain.KrxDatasetPayload{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	required := e.RequiredParams
	if required == nil {
		required = map[string]string{}
	}
	request := make(map[string]string, len(params))
	for k, v := range params {
		request[k] = v
	}
	return domain.KrxDatasetPayload{
		DatasetKey:     e.DatasetKey,
		RequiredParams: required,
		RequestParams:  request,
		Response:       resp,
	}, nil
}
