package candle

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/yanun0323/errors"
)

// Fixed little-endian record sizes of the on-disk series files.
const (
	CandleRecordSize = 28
	EmaRecordSize    = 12
)

var ErrTruncatedRecord = errors.New("candle file: truncated record")

// EncodeCandle serializes a candle into a fixed-size record.
func EncodeCandle(dst []byte, c Candle) []byte {
	if cap(dst) < CandleRecordSize {
		dst = make([]byte, CandleRecordSize)
	} else {
		dst = dst[:CandleRecordSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], uint64(c.TS))
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(c.Open))
	binary.LittleEndian.PutUint32(dst[12:16], math.Float32bits(c.High))
	binary.LittleEndian.PutUint32(dst[16:20], math.Float32bits(c.Low))
	binary.LittleEndian.PutUint32(dst[20:24], math.Float32bits(c.Close))
	binary.LittleEndian.PutUint32(dst[24:28], math.Float32bits(c.BaseVolume))

	return dst
}

// DecodeCandle parses a fixed-size candle record.
func DecodeCandle(src []byte) (Candle, bool) {
	if len(src) < CandleRecordSize {
		return Candle{}, false
	}
	return Candle{
		TS:         int64(binary.LittleEndian.Uint64(src[0:8])),
		Open:       math.Float32frombits(binary.LittleEndian.Uint32(src[8:12])),
		High:       math.Float32frombits(binary.LittleEndian.Uint32(src[12:16])),
		Low:        math.Float32frombits(binary.LittleEndian.Uint32(src[16:20])),
		Close:      math.Float32frombits(binary.LittleEndian.Uint32(src[20:24])),
		BaseVolume: math.Float32frombits(binary.LittleEndian.Uint32(src[24:28])),
	}, true
}

// EncodeEmaPoint serializes an EMA sample into a fixed-size record.
func EncodeEmaPoint(dst []byte, p EmaPoint) []byte {
	if cap(dst) < EmaRecordSize {
		dst = make([]byte, EmaRecordSize)
	} else {
		dst = dst[:EmaRecordSize]
	}
	binary.LittleEndian.PutUint64(dst[0:8], uint64(p.TS))
	binary.LittleEndian.PutUint32(dst[8:12], math.Float32bits(p.Ema))
	return dst
}

// DecodeEmaPoint parses a fixed-size EMA record.
func DecodeEmaPoint(src []byte) (EmaPoint, bool) {
	if len(src) < EmaRecordSize {
		return EmaPoint{}, false
	}
	return EmaPoint{
		TS:  int64(binary.LittleEndian.Uint64(src[0:8])),
		Ema: math.Float32frombits(binary.LittleEndian.Uint32(src[8:12])),
	}, true
}

// WriteSeries writes candles as consecutive fixed-size records.
func WriteSeries(w io.Writer, cs []Candle) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, CandleRecordSize)
	for _, c := range cs {
		if _, err := bw.Write(EncodeCandle(buf, c)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSeries reads consecutive candle records until EOF.
func ReadSeries(r io.Reader) ([]Candle, error) {
	br := bufio.NewReader(r)
	buf := make([]byte, CandleRecordSize)
	var cs []Candle
	for {
		n, err := io.ReadFull(br, buf)
		if err == io.EOF && n == 0 {
			return cs, nil
		}
		if err != nil {
			return cs, ErrTruncatedRecord
		}
		c, _ := DecodeCandle(buf)
		cs = append(cs, c)
	}
}

// WriteEmaSeries writes EMA samples as consecutive fixed-size records.
func WriteEmaSeries(w io.Writer, ps []EmaPoint) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, EmaRecordSize)
	for _, p := range ps {
		if _, err := bw.Write(EncodeEmaPoint(buf, p)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadEmaSeries reads consecutive EMA records until EOF.
func ReadEmaSeries(r io.Reader) ([]EmaPoint, error) {
	br := bufio.NewReader(r)
	buf := make([]byte, EmaRecordSize)
	var ps []EmaPoint
	for {
		n, err := io.ReadFull(br, buf)
		if err == io.EOF && n == 0 {
			return ps, nil
		}
		if err != nil {
			return ps, ErrTruncatedRecord
		}
		p, _ := DecodeEmaPoint(buf)
		ps = append(ps, p)
	}
}

// WriteSeriesFile atomically replaces path with the given series.
func WriteSeriesFile(path string, cs []Candle) error {
	return writeFileAtomic(path, func(f *os.File) error {
		return WriteSeries(f, cs)
	})
}

// ReadSeriesFile loads a candle series file. A missing file yields an empty series.
func ReadSeriesFile(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ReadSeries(f)
}

// WriteEmaSeriesFile atomically replaces path with the given EMA series.
func WriteEmaSeriesFile(path string, ps []EmaPoint) error {
	return writeFileAtomic(path, func(f *os.File) error {
		return WriteEmaSeries(f, ps)
	})
}

// ReadEmaSeriesFile loads an EMA series file. A missing file yields an empty series.
func ReadEmaSeriesFile(path string) ([]EmaPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ReadEmaSeries(f)
}

func writeFileAtomic(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
