package domain

import (
	"github.com/yungbote/newsgraph/internal/domain/newsletter"
)

type EntityType = newsletter.EntityType
type Candidate = newsletter.Candidate
type Entity = newsletter.Entity
type Newsletter = newsletter.Newsletter
type Mention = newsletter.Mention
type Operation = newsletter.Operation
type UpsertResult = newsletter.UpsertResult
type GraphStats = newsletter.GraphStats
type SchemaReport = newsletter.SchemaReport
type AliasMergePolicy = newsletter.AliasMergePolicy

type ProcessingRun = newsletter.ProcessingRun
type RunStatus = newsletter.RunStatus

type ValidationError = newsletter.ValidationError
type UpstreamExtractionError = newsletter.UpstreamExtractionError
type SchemaSetupError = newsletter.SchemaSetupError

// Models lists the gorm models the ledger migrates.
func Models() []any {
	return []any{&ProcessingRun{}}
}
