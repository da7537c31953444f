package embedding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-rag/internal/config"
	"course-rag/internal/models"
)

// fakeClient returns [len(text), 1, 0, ...] per text and fails any call
// that contains a text starting with "fail".
type fakeClient struct {
	mu          sync.Mutex
	dim         int
	docCalls    [][]string
	queryCalls  []string
	wrongDimFor string
}

func (f *fakeClient) vector(text string) []float32 {
	if text == f.wrongDimFor {
		return []float32{1}
	}
	v := make([]float32, f.dim)
	v[0] = float32(len(text))
	v[1] = 1
	return v
}

func (f *fakeClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.docCalls = append(f.docCalls, append([]string(nil), texts...))
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.HasPrefix(t, "fail") {
			return nil, errors.New("provider error")
		}
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *fakeClient) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.queryCalls = append(f.queryCalls, text)
	f.mu.Unlock()

	if strings.HasPrefix(text, "fail") {
		return nil, errors.New("provider error")
	}
	return f.vector(text), nil
}

func newAdapter(client *fakeClient, opts ...Option) *Adapter {
	opts = append([]Option{WithBatchDelay(0)}, opts...)
	return NewAdapter(client, client.dim, opts...)
}

func TestGenerate_BlankTextIsZeroWithoutCall(t *testing.T) {
	client := &fakeClient{dim: 4}
	a := newAdapter(client)

	for _, text := range []string{"", "   ", "\n\t"} {
		v, err := a.Generate(context.Background(), text, models.TaskRetrievalQuery)
		require.NoError(t, err)
		assert.Equal(t, make([]float32, 4), v)
	}
	assert.Empty(t, client.queryCalls)
	assert.Empty(t, client.docCalls)
}

func TestGenerate_TaskSelectsCall(t *testing.T) {
	client := &fakeClient{dim: 4}
	a := newAdapter(client)

	v, err := a.Generate(context.Background(), "abc", models.TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, float32(3), v[0])
	assert.Equal(t, []string{"abc"}, client.queryCalls)

	_, err = a.Generate(context.Background(), "abcd", models.TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"abcd"}}, client.docCalls)
}

func TestGenerate_Errors(t *testing.T) {
	client := &fakeClient{dim: 4, wrongDimFor: "short"}
	a := newAdapter(client)

	_, err := a.Generate(context.Background(), "fail now", models.TaskRetrievalQuery)
	assert.Error(t, err)

	_, err = a.Generate(context.Background(), "short", models.TaskRetrievalQuery)
	assert.Error(t, err)
}

func TestGenerate_TruncatesLongText(t *testing.T) {
	client := &fakeClient{dim: 4}
	a := newAdapter(client, WithMaxChars(10))

	_, err := a.Generate(context.Background(), strings.Repeat("x", 50), models.TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 10), client.queryCalls[0])
}

func TestGenerateBatch_SplitsAndPreservesOrder(t *testing.T) {
	client := &fakeClient{dim: 4}
	a := newAdapter(client, WithBatchSize(100))

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = strings.Repeat("a", i+1)
	}
	vecs, err := a.GenerateBatch(context.Background(), texts, models.TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 250)

	require.Len(t, client.docCalls, 3)
	assert.Len(t, client.docCalls[0], 100)
	assert.Len(t, client.docCalls[1], 100)
	assert.Len(t, client.docCalls[2], 50)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestGenerateBatch_BlankItemsSkipped(t *testing.T) {
	client := &fakeClient{dim: 4}
	a := newAdapter(client)

	vecs, err := a.GenerateBatch(context.Background(), []string{"ab", " ", "abc"}, models.TaskRetrievalDocument)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"ab", "abc"}}, client.docCalls)
	assert.Equal(t, float32(2), vecs[0][0])
	assert.Equal(t, make([]float32, 4), vecs[1])
	assert.Equal(t, float32(3), vecs[2][0])
}

func TestGenerateBatch_FailedItemDegradesToZero(t *testing.T) {
	client := &fakeClient{dim: 4, wrongDimFor: "odd"}
	a := newAdapter(client)

	vecs, err := a.GenerateBatch(context.Background(), []string{"one", "fail here", "three", "odd"}, models.TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	assert.Equal(t, float32(3), vecs[0][0])
	assert.Equal(t, make([]float32, 4), vecs[1])
	assert.Equal(t, float32(5), vecs[2][0])
	assert.Equal(t, make([]float32, 4), vecs[3])

	// one failed batch call, then one call per item
	assert.Len(t, client.docCalls, 5)
}

func TestGenerateBatch_QueryTask(t *testing.T) {
	client := &fakeClient{dim: 4}
	a := newAdapter(client)

	vecs, err := a.GenerateBatch(context.Background(), []string{"a", "bb"}, models.TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bb"}, client.queryCalls)
	assert.Empty(t, client.docCalls)
	assert.Equal(t, float32(2), vecs[1][0])
}

func TestGenerateBatch_CanceledBetweenBatches(t *testing.T) {
	client := &fakeClient{dim: 4}
	a := NewAdapter(client, 4, WithBatchSize(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.GenerateBatch(ctx, []string{"a", "b"}, models.TaskRetrievalDocument)
	assert.Error(t, err)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(&config.LLMConfig{Provider: "nope"})
	assert.Error(t, err)
}
