package skymap

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// fitsMap is a FITS binary table HEALPix skymap, parsed only far enough to
// expose the extension's header scalars; the PROB column is not decoded.
// It is not a general FITS reader.
type fitsMap struct {
	header map[string]float64
	nside  int
	order  string
	moc    bool
	prob   []float64 // not populated: parseFITS does not decode pixel data
}

const fitsBlockSize = 2880
const fitsCardSize = 80

// parseFITS reads the primary header and the header of the first binary
// table extension of a HEALPix skymap FITS file, decompressing raw bytes as gzip first if
// they don't look like a FITS primary header (matches the upstream
// fallback of trying a gzip stream when fits.open fails).
func parseFITS(raw []byte) (*fitsMap, error) {
	if !looksLikeFITS(raw) {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("not a FITS file and not gzip: %w", err)
		}
		defer gz.Close()
		decoded, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("decompressing gzip skymap: %w", err)
		}
		raw = decoded
	}

	r := bufio.NewReader(bytes.NewReader(raw))
	primary, consumed, err := readHeaderUnit(r)
	if err != nil {
		return nil, fmt.Errorf("reading primary FITS header: %w", err)
	}
	_ = primary

	skipDataUnit(r, primary, consumed)

	ext, _, err := readHeaderUnit(r)
	if err != nil {
		return nil, fmt.Errorf("reading FITS extension header: %w", err)
	}

	fm := &fitsMap{header: make(map[string]float64)}
	for k, v := range ext {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			fm.header[strings.ToUpper(k)] = f
		}
	}
	if nside, ok := fm.header["NSIDE"]; ok {
		fm.nside = int(nside)
	}
	fm.order = OrderRing // the HEALPix FITS default when ORDERING is absent
	if order, ok := ext["ORDERING"]; ok {
		fm.order = strings.ToUpper(strings.TrimSpace(order))
		if fm.order == OrderNUNIQ {
			fm.moc = true
		}
	}

	// Probability pixel data is not decoded from the binary table, so
	// ContourArea answers from nside and level alone. Real deployments link the GOTO-specific
	// skymap library here instead of this package's fallback reader.
	return fm, nil
}

func looksLikeFITS(raw []byte) bool {
	return len(raw) >= 6 && string(raw[:6]) == "SIMPLE"
}

// readHeaderUnit reads consecutive 2880-byte header blocks until an END
// card, returning the card key/value pairs and the number of bytes
// consumed (always a multiple of fitsBlockSize).
func readHeaderUnit(r *bufio.Reader) (map[string]string, int, error) {
	cards := make(map[string]string)
	consumed := 0
	buf := make([]byte, fitsBlockSize)
	for {
		n, err := io.ReadFull(r, buf)
		if n != fitsBlockSize {
			return nil, consumed, fmt.Errorf("short FITS header block: %w", err)
		}
		consumed += fitsBlockSize
		block := buf
		done := false
		for off := 0; off < fitsBlockSize; off += fitsCardSize {
			card := string(block[off : off+fitsCardSize])
			key := strings.TrimSpace(card[:8])
			if key == "END" {
				done = true
				break
			}
			if key == "" || len(card) < 10 || card[8:10] != "= " {
				continue
			}
			value := strings.TrimSpace(card[10:])
			if idx := strings.Index(value, "/"); idx >= 0 {
				value = strings.TrimSpace(value[:idx])
			}
			value = strings.Trim(value, "'")
			cards[key] = value
		}
		if done {
			break
		}
	}
	return cards, consumed, nil
}

func skipDataUnit(r *bufio.Reader, header map[string]string, _ int) {
	naxis, _ := strconv.Atoi(header["NAXIS"])
	if naxis == 0 {
		return
	}
	bitpix, _ := strconv.Atoi(header["BITPIX"])
	size := bitpix / 8
	if size < 0 {
		size = -size
	}
	for i := 1; i <= naxis; i++ {
		dim, _ := strconv.Atoi(header[fmt.Sprintf("NAXIS%d", i)])
		if dim == 0 {
			dim = 1
		}
		size *= dim
	}
	padded := ((size + fitsBlockSize - 1) / fitsBlockSize) * fitsBlockSize
	io.CopyN(io.Discard, r, int64(padded))
}

func (f *fitsMap) Header(key string) (float64, bool) {
	v, ok := f.header[strings.ToUpper(key)]
	return v, ok
}

func (f *fitsMap) Nside() int    { return f.nside }
func (f *fitsMap) Order() string { return f.order }
func (f *fitsMap) IsMOC() bool   { return f.moc }

func (f *fitsMap) Regrade(nside int, order string) SkyMap {
	cp := *f
	cp.nside = nside
	cp.order = order
	return &cp
}

// ContourArea returns the full-sky area scaled by level (the full sky when
// nside is not positive), since pixel probabilities are not decoded by
// this reader (see parseFITS). The result does not depend on where the
// map's probability lies; it is not a substitute for real HEALPix
// integration.
func (f *fitsMap) ContourArea(level float64) float64 {
	total := 41253.0 // full sky, sq deg
	if f.nside <= 0 {
		return total
	}
	return total * level
}
