package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/newsgraph/internal/data/repos/runs"
	"github.com/yungbote/newsgraph/internal/platform/logger"
)

type RunRepo = runs.RunRepo
type RunListFilter = runs.ListFilter

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo { return runs.NewRunRepo(db, baseLog) }
