// Copyright (c) 2025 Kyoto developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestScriptSetAddIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		script := rapid.SliceOfN(rapid.Byte(), 1, 40).Draw(t, "script")

		s := NewScriptSet()
		s.Add(script)
		first := s.Len()

		s.Add(script)
		require.Equal(t, first, s.Len())
		require.True(t, s.Contains(script))
	})
}

func TestScriptSetAddAllMatchesSequentialAdd(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scripts := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 1, 20), 0, 10).Draw(t, "scripts")

		a := NewScriptSet()
		a.AddAll(scripts)

		b := NewScriptSet()
		for _, scr := range scripts {
			b.Add(scr)
		}

		require.Equal(t, b.Len(), a.Len())
		for _, scr := range scripts {
			require.Equal(t, b.Contains(scr), a.Contains(scr))
		}
	})
}
