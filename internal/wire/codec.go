// Package wire implements a binary search-result encoding: a
// varint-prefixed, fixed-width layout negotiated between the shard
// client and a storage node via an explicit content-type selector, as
// an alternative to the default JSON response. Nothing here is part of
// the on-disk index; it is purely the bytes that cross the wire for
// one search response.
//
// Layout of one result list:
//
//	<varint count>
//	repeat count times:
//	  <float64 distance><float64 similarity>
//	  <varint id><int64 created_at_millis>
//	  <varint dim><dim x float32 embedding>
//	  <varint len><len bytes database_id utf8>
//	  <varint len><len bytes original_data utf8>
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ContentType is the Accept/Content-Type value that selects this binary
// encoding instead of the default JSON search response.
const ContentType = "application/vnd.vectorshard.searchresult+binary"

// Result is one decoded/encoded search hit.
type Result struct {
	Distance     float64
	Similarity   float64
	ID           int64
	CreatedAtMS  int64
	Embedding    []float32
	DatabaseID   string
	OriginalData []byte
}

// EncodeResults writes a list of results in the binary layout above.
func EncodeResults(w io.Writer, results []Result) error {
	bw := bufio.NewWriter(w)
	if err := writeUvarint(bw, uint64(len(results))); err != nil {
		return err
	}
	for _, r := range results {
		if err := writeFloat64(bw, r.Distance); err != nil {
			return err
		}
		if err := writeFloat64(bw, r.Similarity); err != nil {
			return err
		}
		if err := writeUvarint(bw, uint64(r.ID)); err != nil {
			return err
		}
		if err := writeInt64(bw, r.CreatedAtMS); err != nil {
			return err
		}
		if err := writeUvarint(bw, uint64(len(r.Embedding))); err != nil {
			return err
		}
		for _, f := range r.Embedding {
			if err := writeFloat32(bw, f); err != nil {
				return err
			}
		}
		if err := writeBytes(bw, []byte(r.DatabaseID)); err != nil {
			return err
		}
		if err := writeBytes(bw, r.OriginalData); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodeResults reads a list of results written by EncodeResults.
func DecodeResults(r io.Reader) ([]Result, error) {
	br := bufio.NewReader(r)
	count, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("wire: read count: %w", err)
	}

	out := make([]Result, 0, count)
	for i := uint64(0); i < count; i++ {
		var res Result

		dist, err := readFloat64(br)
		if err != nil {
			return nil, fmt.Errorf("wire: read distance: %w", err)
		}
		res.Distance = dist

		sim, err := readFloat64(br)
		if err != nil {
			return nil, fmt.Errorf("wire: read similarity: %w", err)
		}
		res.Similarity = sim

		id, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("wire: read id: %w", err)
		}
		res.ID = int64(id)

		created, err := readInt64(br)
		if err != nil {
			return nil, fmt.Errorf("wire: read created_at: %w", err)
		}
		res.CreatedAtMS = created

		dim, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("wire: read dim: %w", err)
		}
		res.Embedding = make([]float32, dim)
		for j := uint64(0); j < dim; j++ {
			f, err := readFloat32(br)
			if err != nil {
				return nil, fmt.Errorf("wire: read embedding[%d]: %w", j, err)
			}
			res.Embedding[j] = f
		}

		dbID, err := readBytes(br)
		if err != nil {
			return nil, fmt.Errorf("wire: read database_id: %w", err)
		}
		res.DatabaseID = string(dbID)

		original, err := readBytes(br)
		if err != nil {
			return nil, fmt.Errorf("wire: read original_data: %w", err)
		}
		res.OriginalData = original

		out = append(out, res)
	}
	return out, nil
}

func writeUvarint(w *bufio.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func writeInt64(w *bufio.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func writeFloat64(w *bufio.Writer, v float64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

func writeFloat32(w *bufio.Writer, v float32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], math.Float32bits(v))
	_, err := w.Write(buf[:])
	return err
}

func writeBytes(w *bufio.Writer, b []byte) error {
	if err := writeUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readInt64(r *bufio.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func readFloat64(r *bufio.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(buf[:])), nil
}

func readFloat32(r *bufio.Reader) (float32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(buf[:])), nil
}

func readBytes(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
