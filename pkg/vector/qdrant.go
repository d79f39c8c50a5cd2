// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 The Genie Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the Qdrant vector provider.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`

	// Port is the Qdrant gRPC port (default: 6334).
	Port int `yaml:"port"`

	// APIKey for authenticated access (optional).
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS connections.
	UseTLS bool `yaml:"use_tls,omitempty"`
}

// QdrantProvider implements Provider using the Qdrant vector database.
type QdrantProvider struct {
	client *qdrant.Client
	config QdrantConfig
}

// NewQdrantProvider creates a new Qdrant provider.
func NewQdrantProvider(cfg QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334 // Qdrant gRPC port
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w",
			cfg.Host, cfg.Port, err)
	}

	return &QdrantProvider{client: client, config: cfg}, nil
}

// Name returns the provider name.
func (p *QdrantProvider) Name() string {
	return "qdrant"
}

// Upsert adds or replaces a document with its vector.
func (p *QdrantProvider) Upsert(ctx context.Context, collection, id, document string, metadata map[string]any, vec []float32) error {
	if err := ValidateMetadata(metadata); err != nil {
		return err
	}
	if err := p.ensureCollection(ctx, collection, len(vec)); err != nil {
		return err
	}

	payload, err := buildPayload(document, metadata)
	if err != nil {
		return err
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vec...),
		Payload: payload,
	}
	if _, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Query returns the k nearest records with equality metadata filtering.
func (p *QdrantProvider) Query(ctx context.Context, collection string, vec []float32, k int, where map[string]any) ([]Result, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if len(where) > 0 {
		searchRequest.Filter = buildQdrantFilter(where)
	}

	searchResult, err := p.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		if strings.Contains(err.Error(), "doesn't exist") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]Result, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		results = append(results, Result{
			ID:       pointID(point.Id),
			Document: documentOf(point.Payload),
			Metadata: parsePayload(point.Payload),
			Vector:   pointVector(point.Vectors),
			Score:    point.Score,
		})
	}
	return results, nil
}

// Get retrieves records by id.
func (p *QdrantProvider) Get(ctx context.Context, collection string, ids []string) ([]Result, error) {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	points, err := p.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get points: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, point := range points {
		results = append(results, Result{
			ID:       pointID(point.Id),
			Document: documentOf(point.Payload),
			Metadata: parsePayload(point.Payload),
			Vector:   retrievedVector(point.Vectors),
		})
	}
	return results, nil
}

// Update replaces a record's metadata, keeping its vector and document.
func (p *QdrantProvider) Update(ctx context.Context, collection, id string, metadata map[string]any) error {
	if err := ValidateMetadata(metadata); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata))
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
		}
		payload[key] = val
	}

	if _, err := p.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: collection,
		Payload:        payload,
		PointsSelector: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewID(id)},
				},
			},
		},
	}); err != nil {
		return fmt.Errorf("failed to set payload for %s: %w", id, err)
	}
	return nil
}

// Delete removes records by id.
func (p *QdrantProvider) Delete(ctx context.Context, collection string, ids ...string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	if _, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	}); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Count returns the number of records in a collection.
func (p *QdrantProvider) Count(ctx context.Context, collection string) (int, error) {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return 0, nil
	}

	count, err := p.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(count), nil
}

// DeleteCollection removes a collection.
func (p *QdrantProvider) DeleteCollection(ctx context.Context, collection string) error {
	if err := p.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

// Close closes the Qdrant client.
func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

func (p *QdrantProvider) ensureCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// payloadDocumentKey stores the document text inside the payload.
const payloadDocumentKey = "_document"

func buildPayload(document string, metadata map[string]any) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
		}
		payload[key] = val
	}
	docVal, err := qdrant.NewValue(document)
	if err != nil {
		return nil, fmt.Errorf("failed to convert document: %w", err)
	}
	payload[payloadDocumentKey] = docVal
	return payload, nil
}

func buildQdrantFilter(where map[string]any) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(where))
	for key, value := range where {
		switch v := value.(type) {
		case bool:
			conditions = append(conditions, qdrant.NewMatchBool(key, v))
		case int:
			conditions = append(conditions, qdrant.NewMatchInt(key, int64(v)))
		case int64:
			conditions = append(conditions, qdrant.NewMatchInt(key, v))
		default:
			conditions = append(conditions, qdrant.NewMatchKeyword(key, fmt.Sprint(v)))
		}
	}
	return &qdrant.Filter{Must: conditions}
}

func pointID(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch idType := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return idType.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", idType.Num)
	}
	return ""
}

func pointVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vectorData := vectors.GetVector(); vectorData != nil {
		if dense, ok := vectorData.Vector.(*qdrant.VectorOutput_Dense); ok && dense.Dense != nil {
			return dense.Dense.Data
		}
	}
	return nil
}

func retrievedVector(vectors *qdrant.VectorsOutput) []float32 {
	return pointVector(vectors)
}

func parsePayload(payload map[string]*qdrant.Value) map[string]any {
	metadata := make(map[string]any, len(payload))
	for key, value := range payload {
		if key == payloadDocumentKey {
			continue
		}
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			metadata[key] = v.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[key] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[key] = v.BoolValue
		default:
			metadata[key] = value
		}
	}
	return metadata
}

func documentOf(payload map[string]*qdrant.Value) string {
	if v, ok := payload[payloadDocumentKey]; ok {
		return v.GetStringValue()
	}
	return ""
}

// Ensure QdrantProvider implements Provider.
var _ Provider = (*QdrantProvider)(nil)
