// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/analytics"
	"github.com/teradata-labs/recall/pkg/assembler"
	"github.com/teradata-labs/recall/pkg/knowledge"
	"github.com/teradata-labs/recall/pkg/llm"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/search"
	"github.com/teradata-labs/recall/pkg/storage"
)

// Deps carries everything the tool surface needs. Optional collaborators
// (Search, Assembler, Knowledge, Analyzer) may be nil when the
// corresponding feature flag is off; RegisterAll then skips their tools,
// so tools/list only advertises what the configuration can serve.
type Deps struct {
	Store     *storage.Store
	Convs     *memory.ConversationRepository
	Messages  *memory.MessageRepository
	Summaries *memory.SummaryRepository
	Providers *memory.ProviderRepository
	Entities  *memory.EntityRepository
	Graph     *memory.GraphRepository
	Analytics *memory.AnalyticsRepository

	Search    *search.Engine
	Assembler *assembler.Assembler
	Knowledge *knowledge.Service
	Conflicts *knowledge.ConflictScanner
	Analyzer  *analytics.Analyzer
	LLM       *llm.Factory

	Logger *zap.Logger
}

// RegisterAll installs the full tool surface on r. Tools whose
// collaborators are disabled are skipped, so tools/list reflects the
// active configuration.
func RegisterAll(r *Registry, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	r.MustRegister(memoryTools(d)...)
	if d.Search != nil {
		r.MustRegister(searchTools(d)...)
	}
	if d.Assembler != nil {
		r.MustRegister(contextTools(d)...)
	}
	r.MustRegister(providerTools(d)...)
	if d.Knowledge != nil {
		r.MustRegister(graphTools(d)...)
	}
	if d.Analyzer != nil {
		r.MustRegister(insightTools(d)...)
		r.MustRegister(analyticsTools(d)...)
	}
}
