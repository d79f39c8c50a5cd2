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
	"fmt"

	"github.com/genie-ai/genie/pkg/config"
)

// NewProvider builds a vector provider from configuration.
func NewProvider(cfg *config.VectorStoreConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector store config is required")
	}

	switch cfg.Type {
	case "chromem", "":
		return NewChromemProvider(ChromemConfig{
			PersistPath: cfg.PersistPath,
			Compress:    cfg.Compress,
		})
	case "qdrant":
		return NewQdrantProvider(QdrantConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			APIKey: cfg.APIKey,
			UseTLS: cfg.EnableTLS,
		})
	default:
		return nil, fmt.Errorf("unknown vector store type: %s", cfg.Type)
	}
}
