package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHierarchicalNumber(t *testing.T) {
	segs, err := ParseHierarchicalNumber("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, segs)

	for _, bad := range []string{"", "1..2", "0.1", "a.b", "1.02", "-1"} {
		_, err := ParseHierarchicalNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestIsChildNumber(t *testing.T) {
	assert.True(t, IsChildNumber("1.2", "1.2.3"))
	assert.False(t, IsChildNumber("1.2", "1.2.3.4"))
	assert.False(t, IsChildNumber("1.2", "1.23"))
	assert.False(t, IsChildNumber("1", "2.1"))
}

func TestTask_Validate(t *testing.T) {
	task := Task{ID: "t1", Title: "Kickoff", Status: TaskTodo, Priority: PriorityMedium}
	require.NoError(t, task.Validate())

	task.Status = "blocked"
	assert.Error(t, task.Validate())

	task.Status = TaskDone
	task.HierarchicalNumber = StringPtr("1.x")
	assert.Error(t, task.Validate())
}

func TestTask_CloneIsDeep(t *testing.T) {
	orig := Task{ID: "t1", ParentTaskID: StringPtr("p"), Assignees: []string{"dana"}}
	c := orig.Clone()
	*c.ParentTaskID = "q"
	c.Assignees[0] = "noa"

	assert.Equal(t, "p", *orig.ParentTaskID)
	assert.Equal(t, "dana", orig.Assignees[0])
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "acme ltd", NormalizeName("  ACME Ltd "))
	assert.Equal(t, "design", TitleKey(" Design"))
}
