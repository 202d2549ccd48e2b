package spiders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/dserrors"
)

func TestRegistry_ResolvesBuiltinSpiders(t *testing.T) {
	deps := Deps{Logger: arbor.NewLogger()}

	list, err := New(SpiderNameList, deps)
	require.NoError(t, err)
	assert.Equal(t, SpiderNameList, list.Name())

	detail, err := New(SpiderNameDetail, deps)
	require.NoError(t, err)
	assert.Equal(t, SpiderNameDetail, detail.Name())

	assert.Contains(t, Names(), SpiderNameList)
}

func TestRegistry_UnknownSpider(t *testing.T) {
	_, err := New("no_such_spider", Deps{})
	require.Error(t, err)
	assert.Equal(t, dserrors.KindUnknownSpider, dserrors.KindOf(err))
}
