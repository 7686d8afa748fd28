package service

import (
	"context"

	"ingest-service/internal/models"
)

type DimensionResolver struct {
	store DimensionStore
}

func NewDimensionResolver(store DimensionStore) *DimensionResolver {
	return &DimensionResolver{store: store}
}

// ResolveLocation returns nil for an unknown location rather than storing
// an empty row.
func (d *DimensionResolver) ResolveLocation(ctx context.Context, projectID int64, loc models.Location) (*int64, error) {
	if loc.CountryCode == "" {
		return nil, nil
	}
	id, err := d.store.UpsertLocation(ctx, projectID, loc)
	if err != nil {
		return nil, stageErr(StageDimension, err)
	}
	return &id, nil
}

func (d *DimensionResolver) ResolveDevice(ctx context.Context, projectID int64, dev models.Device) (*int64, error) {
	id, err := d.store.UpsertDevice(ctx, projectID, dev)
	if err != nil {
		return nil, stageErr(StageDimension, err)
	}
	return &id, nil
}
