package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPagination(t *testing.T) {
	p := NewPagination(3, 25, 101)
	assert.Equal(t, 5, p.TotalPages)
	assert.Equal(t, 25, p.Limit())
	assert.Equal(t, 50, p.Offset())

	p = NewPagination(0, 0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.Limit())
	assert.Equal(t, 0, p.Offset())

	assert.Equal(t, 200, NewPagination(1, 1000, 0).Limit())
	assert.Equal(t, 20, Pagination{}.Limit())
}
