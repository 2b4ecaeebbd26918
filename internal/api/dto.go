package api

import (
	"time"

	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
)

type assetDTO struct {
	Href          string   `json:"href"`
	MediaType     string   `json:"mediaType,omitempty"`
	DeclaredBytes *int64   `json:"declaredBytes,omitempty"`
	NoData        *float64 `json:"nodata,omitempty"`
	Shape         []int    `json:"shape,omitempty"`
	DType         string   `json:"dtype,omitempty"`
}

type itemDTO struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	BBox       []float64      `json:"bbox,omitempty"`
	Datetime   string         `json:"datetime,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	// Assets preserve the item's stable asset order.
	Assets []namedAssetDTO `json:"assets,omitempty"`
}

type namedAssetDTO struct {
	Name string `json:"name"`
	assetDTO
}

type collectionDTO struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	License     string         `json:"license,omitempty"`
	Extent      map[string]any `json:"extent,omitempty"`
	Summaries   map[string]any `json:"summaries,omitempty"`
}

func toItemDTO(it model.Item) itemDTO {
	dto := itemDTO{
		ID:         it.ID,
		Collection: it.Collection,
		Properties: it.Properties,
	}
	if it.BBox != nil {
		dto.BBox = it.BBox.Slice()
	}
	if !it.Datetime.IsZero() {
		dto.Datetime = it.Datetime.UTC().Format(time.RFC3339)
	}
	for _, a := range it.Assets {
		dto.Assets = append(dto.Assets, namedAssetDTO{
			Name: a.Name,
			assetDTO: assetDTO{
				Href:          a.Href,
				MediaType:     a.MediaType,
				DeclaredBytes: a.DeclaredBytes,
				NoData:        a.NoData,
				Shape:         a.Shape,
				DType:         a.DType,
			},
		})
	}
	return dto
}

func toCollectionDTO(c model.Collection) collectionDTO {
	return collectionDTO{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		License:     c.License,
		Extent:      c.Extent,
		Summaries:   c.Summaries,
	}
}
