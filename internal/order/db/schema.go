package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-restaurant/internal/models"
)

// schemaModels are created in this order and dropped in reverse.
var schemaModels = []any{
	(*models.User)(nil),
	(*models.MenuItem)(nil),
	(*models.Order)(nil),
	(*models.OrderItem)(nil),
	(*models.StatusLogEntry)(nil),
	(*models.PurgeRecord)(nil),
}

// CreateSchema creates every table straight from the bun models. Production
// databases are migrated with cmd/migrate; this is for tests and local runs.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, m := range schemaModels {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}

func DropSchema(ctx context.Context, db bun.IDB) error {
	for i := len(schemaModels) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(schemaModels[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", schemaModels[i], err)
		}
	}
	return nil
}

// SeedMenu inserts menu items, skipping ids that already exist.
func SeedMenu(ctx context.Context, db bun.IDB, items []models.MenuItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := db.NewInsert().Model(&items).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	return err
}
