package postgres

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/c360/acmistream/model"
)

func TestObjectArgs_MatchColumns(t *testing.T) {
	rec := model.ObjectRecord{
		ID: 1, SessionID: 2, FirstSeen: 3, LastSeen: 4,
		Roll: model.Float(5), Parent: model.Int(6),
	}
	args := objectArgs(rec)
	assert.Len(t, args, len(objectColumns))
	assert.Len(t, eventArgs(rec.ToEvent()), len(eventColumns))

	upd := updateArgs(rec)
	assert.Len(t, upd, len(objectColumns)-1)
	assert.Equal(t, 4.0, upd[11], "last_seen follows alive once first_seen is dropped")
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "Blue", nullString("Blue"))
	assert.Nil(t, nullFloat(nil))
	assert.Equal(t, 1.5, nullFloat(model.Float(1.5)))
	assert.Nil(t, nullInt(nil))
	assert.Equal(t, int64(7), nullInt(model.Int(7)))

	args := objectArgs(model.ObjectRecord{})
	assert.Nil(t, args[16], "roll is NULL when never set")
}

func TestConstraintViolations(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})
	fk := &pq.Error{Code: "23503"}

	assert.True(t, isUniqueViolation(unique))
	assert.False(t, isForeignKeyViolation(unique))
	assert.True(t, isForeignKeyViolation(fk))
	assert.False(t, isUniqueViolation(fk))
	assert.False(t, isUniqueViolation(fmt.Errorf("connection reset")))
}
