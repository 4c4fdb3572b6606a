package txstack_test

import (
	"testing"

	"github.com/iotaledger/runtimehost/overlay"
	"github.com/iotaledger/runtimehost/txstack"
	"github.com/stretchr/testify/require"
)

func TestRollbackRestoresPreTransactionState(t *testing.T) {
	d := overlay.New()
	d.Set([]byte("k"), []byte("pre"), 0)

	st := txstack.New()
	st.Start(d)
	d.Set([]byte("k"), []byte("post"), 0)

	restored, err := st.End(true)
	require.NoError(t, err)
	v, _, _ := restored.Get([]byte("k"))
	require.Equal(t, []byte("pre"), v)
	require.True(t, st.Empty())
}

func TestCommitDiscardsSnapshot(t *testing.T) {
	d := overlay.New()
	st := txstack.New()
	st.Start(d)
	d.Set([]byte("k"), []byte("v"), 0)

	restored, err := st.End(false)
	require.NoError(t, err)
	require.Nil(t, restored)
	v, _, _ := d.Get([]byte("k"))
	require.Equal(t, []byte("v"), v)
}

func TestNestedRollbackLeavesOuterUnaffected(t *testing.T) {
	d := overlay.New()
	st := txstack.New()

	st.Start(d)
	d.Set([]byte("outer"), []byte("1"), 0)

	st.Start(d)
	d.Set([]byte("inner"), []byte("2"), 0)
	restored, err := st.End(true)
	require.NoError(t, err)
	d = restored

	_, _, presentInner := d.Get([]byte("inner"))
	require.False(t, presentInner)
	v, _, presentOuter := d.Get([]byte("outer"))
	require.True(t, presentOuter)
	require.Equal(t, []byte("1"), v)

	require.Equal(t, 1, st.Depth())
}

func TestEndOnEmptyStack(t *testing.T) {
	st := txstack.New()
	_, err := st.End(false)
	require.ErrorIs(t, err, txstack.ErrEmpty)
}
