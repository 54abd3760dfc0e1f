package memory

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rocketsync/rocketsync/pkg/core"
)

const snapshotVersion = 1

// snapshotHeader is the first line of a snapshot file, readable without decoding the body.
type snapshotHeader struct {
	Version   int       `json:"version"`
	World     string    `json:"world"`
	SavedAt   time.Time `json:"savedAt"`
	WorldTime float64   `json:"worldTime"`
	Rockets   int       `json:"rockets"`
}

func snapshotPath(dir, worldName string, compressed bool) string {
	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(worldName)
	if compressed {
		return filepath.Join(dir, name+".snap.zst")
	}
	return filepath.Join(dir, name+".snap")
}

// writeSnapshot writes a JSON header line followed by the gob-encoded world,
// zstd-compressed when the path says so. The file is replaced atomically.
func writeSnapshot(path, worldName string, w *core.World, now time.Time) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	var out io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		out = enc
	}
	bw := bufio.NewWriterSize(out, 256*1024)

	hb, _ := json.Marshal(snapshotHeader{
		Version:   snapshotVersion,
		World:     worldName,
		SavedAt:   now.UTC(),
		WorldTime: w.WorldTime,
		Rockets:   len(w.Rockets),
	})
	if _, err = bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err = gob.NewEncoder(bw).Encode(w); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if enc != nil {
		if err = enc.Close(); err != nil {
			return err
		}
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readSnapshot decodes a snapshot file and restores the empty collections gob drops.
func readSnapshot(path string) (*core.World, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var in io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		in = dec
	}
	br := bufio.NewReaderSize(in, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	var h snapshotHeader
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	if h.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	var w core.World
	if err := gob.NewDecoder(br).Decode(&w); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	if w.Rockets == nil {
		w.Rockets = make(map[int32]*core.RocketState)
	}
	for _, r := range w.Rockets {
		if r.Parts == nil {
			r.Parts = make(map[int32]*core.PartState)
		}
		for _, p := range r.Parts {
			p.EnsureVariables()
		}
	}
	return &w, nil
}
