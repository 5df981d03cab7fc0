package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadURLs(t *testing.T) {
	in := strings.NewReader("# batch 12\nhttps://a.example.com/item/1\n\n  https://a.example.com/item/2  \n#https://skipped\n")

	urls, err := readURLs(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com/item/1", "https://a.example.com/item/2"}, urls)
}
