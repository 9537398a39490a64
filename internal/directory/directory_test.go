package directory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JohnQian2004/eden-ecosystem-typescript-sub001/internal/directory"
)

func TestAssignResolveUnassign(t *testing.T) {
	d := directory.New()

	_, ok := d.ResolveDomain("p1")
	assert.False(t, ok)

	d.Assign("p1", "n1")
	d.Assign("p2", "n1")
	d.Assign("p3", "n2")

	node, ok := d.ResolveDomain("p1")
	assert.True(t, ok)
	assert.Equal(t, "n1", node)
	assert.Equal(t, []string{"p1", "p2"}, d.Members("n1"))

	d.Assign("p1", "n2")
	assert.Equal(t, []string{"p1", "p3"}, d.Members("n2"))

	d.Unassign("p1")
	_, ok = d.ResolveDomain("p1")
	assert.False(t, ok)
	assert.Empty(t, d.Members("n3"))
}
