package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMentions(t *testing.T) {
	alice := "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	bob := "9f8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"

	t.Run("no mentions", func(t *testing.T) {
		assert.Nil(t, ExtractMentions("hello world"))
		assert.Nil(t, ExtractMentions(""))
	})

	t.Run("single mention", func(t *testing.T) {
		got := ExtractMentions("hey @" + alice + " are you around?")
		assert.Equal(t, []string{alice}, got)
	})

	t.Run("first occurrence order preserved", func(t *testing.T) {
		got := ExtractMentions("@" + bob + " meet @" + alice)
		assert.Equal(t, []string{bob, alice}, got)
	})

	t.Run("duplicates collapsed", func(t *testing.T) {
		got := ExtractMentions("@" + alice + " and again @" + alice)
		assert.Equal(t, []string{alice}, got)
	})

	t.Run("non uuid tokens ignored", func(t *testing.T) {
		assert.Nil(t, ExtractMentions("email me @example.com or @bob"))
	})

	t.Run("uppercase normalized", func(t *testing.T) {
		got := ExtractMentions("@F47AC10B-58CC-4372-A567-0E02B2C3D479")
		assert.Equal(t, []string{alice}, got)
	})
}
