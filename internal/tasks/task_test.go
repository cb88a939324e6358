package tasks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest-cli/internal/output"
)

func sampleTasks() []Task {
	return []Task{
		{ID: 1, Todo: "Buy milk", Status: StatusTodo},
		{ID: 2, Todo: "Write report", Status: StatusInProgress, Description: "Quarterly NUMBERS"},
		{ID: 3, Todo: "Call mom", Status: StatusDone, Completed: true},
		{ID: 4, Todo: "Fix the bike", Status: StatusTodo, Description: "rear brake"},
	}
}

func ids(tasks []Task) []int {
	out := make([]int, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"", StatusAll},
		{"all", StatusAll},
		{"todo", StatusTodo},
		{"TODO", StatusTodo},
		{"in-progress", StatusInProgress},
		{"in_progress", StatusInProgress},
		{"doing", StatusInProgress},
		{" done ", StatusDone},
		{"completed", StatusDone},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseStatus("someday")
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeUsage))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Done", StatusDone.Label())
	assert.Equal(t, "In Progress", StatusInProgress.Label())
	assert.Equal(t, "To Do", StatusTodo.Label())
}

func TestFilterByStatus(t *testing.T) {
	tasks := sampleTasks()

	assert.Equal(t, []int{1, 2, 3, 4}, ids(Filter{}.Apply(tasks)))
	assert.Equal(t, []int{1, 2, 3, 4}, ids(Filter{Status: StatusAll}.Apply(tasks)))
	assert.Equal(t, []int{1, 4}, ids(Filter{Status: StatusTodo}.Apply(tasks)))
	assert.Equal(t, []int{2}, ids(Filter{Status: StatusInProgress}.Apply(tasks)))
	assert.Equal(t, []int{3}, ids(Filter{Status: StatusDone}.Apply(tasks)))
}

func TestFilterSearch(t *testing.T) {
	tasks := sampleTasks()

	assert.Equal(t, []int{2}, ids(Filter{Search: "REPORT"}.Apply(tasks)), "title match ignores case")
	assert.Equal(t, []int{2}, ids(Filter{Search: "numbers"}.Apply(tasks)), "description matches too")
	assert.Equal(t, []int{4}, ids(Filter{Search: "  brake "}.Apply(tasks)), "query is trimmed")
	assert.Empty(t, Filter{Search: "nothing"}.Apply(tasks))
	assert.Equal(t, []int{4}, ids(Filter{Status: StatusTodo, Search: "bike"}.Apply(tasks)))
	assert.Empty(t, Filter{Status: StatusDone, Search: "bike"}.Apply(tasks))
}

func TestFilterValidate(t *testing.T) {
	assert.NoError(t, Filter{}.Validate())
	assert.NoError(t, Filter{Status: StatusInProgress}.Validate())

	err := Filter{Status: "later"}.Validate()
	require.Error(t, err)
	assert.True(t, output.IsCode(err, output.CodeUsage))
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleTasks(), 2)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Done)
	assert.Equal(t, 1, s.InProgress)
	assert.Equal(t, 3, s.Pending)
	assert.Equal(t, []int{1, 2}, ids(s.Recent))

	empty := Summarize(nil, 5)
	assert.Equal(t, 0, empty.Total)
	assert.NotNil(t, empty.Recent)
	assert.Empty(t, empty.Recent)
}

func TestValidation(t *testing.T) {
	assert.Error(t, validateTitle("ab"))
	assert.Error(t, validateTitle("  ab  "))
	assert.NoError(t, validateTitle("abc"))
	assert.NoError(t, validateTitle("äöü"), "length counts characters")

	assert.NoError(t, validateDescription(""))
	assert.NoError(t, validateDescription(strings.Repeat("x", MaxDescriptionLength)))
	assert.Error(t, validateDescription(strings.Repeat("x", MaxDescriptionLength+1)))

	assert.NoError(t, validateStatus(StatusInProgress))
	assert.Error(t, validateStatus(StatusAll))
}
