package buildlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeos-work/butido/internal/models"
)

type recordingBar struct {
	positions []uint
	messages  []string
	completed *bool
}

func (b *recordingBar) SetProgress(p uint)  { b.positions = append(b.positions, p) }
func (b *recordingBar) SetMessage(m string) { b.messages = append(b.messages, m) }
func (b *recordingBar) Complete(success *bool) {
	b.completed = success
}

func TestDrainWritesLogFileAndAccumulator(t *testing.T) {
	dir := t.TempDir()
	jobID := models.NewJobID()
	r := NewReceiver(nil, dir)

	items := make(chan LogItem, 8)
	items <- CurrentPhase("unpack")
	items <- Line("unpacking")
	items <- Progress(50)
	items <- Line("building")
	items <- StateOk("done")
	close(items)

	bar := &recordingBar{}
	result, err := r.Drain(jobID, items, bar)
	require.NoError(t, err)

	assert.Equal(t, "unpacking\nbuilding\n", result.Log)
	require.NotNil(t, result.Success)
	assert.True(t, *result.Success)
	require.NotNil(t, bar.completed)
	assert.True(t, *bar.completed)
	assert.Equal(t, []string{"unpack"}, bar.messages)
	assert.Equal(t, []uint{50}, bar.positions)

	data, err := os.ReadFile(filepath.Join(dir, jobID.String()+".log"))
	require.NoError(t, err)
	assert.Equal(t, "unpacking\nbuilding\n", string(data))
}

func TestDrainIndeterminateWithoutStateItem(t *testing.T) {
	r := NewReceiver(nil, "")
	items := make(chan LogItem, 2)
	items <- Line("only output")
	close(items)

	result, err := r.Drain(models.NewJobID(), items, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Success)
}

func TestDrainFailsOnDuplicateLogFile(t *testing.T) {
	dir := t.TempDir()
	jobID := models.NewJobID()
	require.NoError(t, os.WriteFile(filepath.Join(dir, jobID.String()+".log"), []byte("x"), 0644))

	r := NewReceiver(nil, dir)
	items := make(chan LogItem)
	close(items)
	_, err := r.Drain(jobID, items, nil)
	assert.Error(t, err, "exclusive-create must fail when the log file already exists")
}
