package fuzztests

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

const maxSeedBytes = 64 << 10 // 64 KiB — ограничение для тестового корпуса

func addCorpusSeeds(f *testing.F) {
	addTestdataSeeds(f)
	addBuiltinSeeds(f)
}

func addTestdataSeeds(f *testing.F) {
	root := filepath.Join("..", "..", "testdata")
	if _, err := os.Stat(root); err != nil {
		return
	}
	// проходим по дереву testdata, добавляем все *.asm файлы
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".asm" {
			return nil
		}
		// #nosec G304 -- path comes from repository testdata walk
		src, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		f.Add(clampSeed(src))
		return nil
	})
}

func addBuiltinSeeds(f *testing.F) {
	seeds := []string{
		"",
		"SECTION \"code\", ROM0\n\tdb 1, 2, $FF\n",
		"SECTION \"vars\", WRAM0\nUNION\nName:\tds 8\nNEXTU\nScore:\tdw\nENDU\n",
		"MACRO twice\n\tdb \\1, \\1\nENDM\n\ttwice 7\n",
		"REPT 3\n\tdb 0\nENDR\n",
		"FOR I, 0, 12, 3\n\tdw I\nENDR\n",
		"SECTION \"host\", ROM0\nLOAD \"ram\", WRAM0\nRoutine:\n\tdb $11\nENDL\n",
		"PUSHS \"a\", ROM0\n\tdb 1\nPOPS\n",
		"line without newline at the end",
		"\xef\xbb\xbfSECTION \"bom\", ROM0\r\n\tdb 0\r\n",
	}
	for _, s := range seeds {
		f.Add([]byte(s))
	}
}

func clampSeed(src []byte) []byte {
	if len(src) <= maxSeedBytes {
		return append([]byte(nil), src...)
	}
	return append([]byte(nil), src[:maxSeedBytes]...)
}
