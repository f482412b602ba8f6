package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/roach88/marketadmin/internal/ordering"
)

var (
	errNotFound       = errors.New("entity not found")
	errCapReached     = errors.New("active cap reached")
	errUnknownInBatch = errors.New("unknown id in batch")
)

type entityModel struct {
	Scope    string `gorm:"column:scope;primaryKey"`
	ID       string `gorm:"column:id;primaryKey"`
	Name     string `gorm:"column:name;not null"`
	Order    int    `gorm:"column:sort_order;not null;index"`
	IsActive *bool  `gorm:"column:is_active"`
	Seq      int64  `gorm:"column:seq;not null"`
}

func (entityModel) TableName() string { return "sandbox_entities" }

func (m entityModel) entity() ordering.Entity {
	e := ordering.Entity{ID: m.ID, Name: m.Name, Order: m.Order}
	if m.IsActive != nil {
		e.IsActive = ordering.Bool(*m.IsActive)
	}
	return e
}

type repository struct {
	db *gorm.DB
}

func (r *repository) list(ctx context.Context, scope string) ([]ordering.Entity, error) {
	var rows []entityModel
	if err := r.db.WithContext(ctx).
		Where("scope = ?", scope).
		Order("sort_order ASC").
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ordering.Entity, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.entity())
	}
	return out, nil
}

func (r *repository) replace(ctx context.Context, scope string, rows []entityModel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scope = ?", scope).Delete(&entityModel{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

func activeCount(tx *gorm.DB, scope, excludeID string) (int64, error) {
	var n int64
	err := tx.Model(&entityModel{}).
		Where("scope = ? AND is_active = ? AND id <> ?", scope, true, excludeID).
		Count(&n).Error
	return n, err
}

type createParams struct {
	Name     string
	IsActive *bool
	Order    *int
}

func (r *repository) create(ctx context.Context, sc scopeRoute, id string, seq int64, p createParams) (ordering.Entity, error) {
	var created entityModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.IsActive != nil && *p.IsActive && sc.ActiveCap > 0 {
			n, err := activeCount(tx, sc.Name, "")
			if err != nil {
				return err
			}
			if n >= int64(sc.ActiveCap) {
				return errCapReached
			}
		}

		order := sc.Base
		if p.Order != nil {
			order = *p.Order
		} else {
			var top sql.NullInt64
			if err := tx.Model(&entityModel{}).
				Where("scope = ?", sc.Name).
				Select("MAX(sort_order)").
				Row().Scan(&top); err != nil {
				return err
			}
			if top.Valid {
				order = int(top.Int64) + 1
			}
		}

		isActive := p.IsActive
		if isActive == nil && sc.ActiveCap > 0 {
			isActive = ordering.Bool(false)
		}

		created = entityModel{
			Scope:    sc.Name,
			ID:       id,
			Name:     p.Name,
			Order:    order,
			IsActive: isActive,
			Seq:      seq,
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return ordering.Entity{}, err
	}
	return created.entity(), nil
}

type patchParams struct {
	Name     *string
	IsActive *bool
	Order    *int
}

func (r *repository) patch(ctx context.Context, sc scopeRoute, id string, p patchParams) (ordering.Entity, error) {
	var updated entityModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scope = ? AND id = ?", sc.Name, id).Take(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound
			}
			return err
		}

		activating := p.IsActive != nil && *p.IsActive && (updated.IsActive == nil || !*updated.IsActive)
		if activating && sc.ActiveCap > 0 {
			n, err := activeCount(tx, sc.Name, id)
			if err != nil {
				return err
			}
			if n >= int64(sc.ActiveCap) {
				return errCapReached
			}
		}

		updates := map[string]any{}
		if p.Name != nil {
			updates["name"] = *p.Name
			updated.Name = *p.Name
		}
		if p.IsActive != nil {
			updates["is_active"] = *p.IsActive
			updated.IsActive = ordering.Bool(*p.IsActive)
		}
		if p.Order != nil {
			updates["sort_order"] = *p.Order
			updated.Order = *p.Order
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&entityModel{}).
			Where("scope = ? AND id = ?", sc.Name, id).
			Updates(updates).Error
	})
	if err != nil {
		return ordering.Entity{}, err
	}
	return updated.entity(), nil
}

func (r *repository) delete(ctx context.Context, scope, id string) error {
	res := r.db.WithContext(ctx).Where("scope = ? AND id = ?", scope, id).Delete(&entityModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNotFound
	}
	return nil
}

// reorder applies every placement in one transaction. Any unknown id rolls
// the whole batch back. Ids left out of the batch keep their order.
func (r *repository) reorder(ctx context.Context, scope string, placements []ordering.Placement) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range placements {
			res := tx.Model(&entityModel{}).
				Where("scope = ? AND id = ?", scope, p.ID).
				Update("sort_order", p.Order)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", errUnknownInBatch, p.ID)
			}
		}
		return nil
	})
}

func (r *repository) maxSeq(ctx context.Context) (int64, error) {
	var top sql.NullInt64
	if err := r.db.WithContext(ctx).Model(&entityModel{}).Select("MAX(seq)").Row().Scan(&top); err != nil {
		return 0, err
	}
	return top.Int64, nil
}
