package point

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrInvalidShape is returned when a point file is read with a zero
	// dimension or holds no point.
	ErrInvalidShape = errors.New("point dimension must be nonzero")
	// ErrParse is returned for malformed or incomplete point data.
	ErrParse = errors.New("error while reading point file")
)

// ReadPoints reads whitespace separated coordinates from r, n values per
// point. Lines starting with '#' are skipped. Input without any point is an
// ErrInvalidShape. The returned points are unevaluated.
func ReadPoints(r io.Reader, n int) ([]Point, error) {
	if n <= 0 {
		return nil, ErrInvalidShape
	}

	var points []Point
	coords := make([]float64, 0, n)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		for _, tok := range strings.Fields(text) {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %q is not a number", ErrParse, line, tok)
			}
			coords = append(coords, v)
			if len(coords) == n {
				points = append(points, New(coords))
				coords = coords[:0]
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(coords) != 0 {
		return nil, fmt.Errorf("%w: incomplete point with %d of %d coordinates", ErrParse, len(coords), n)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no point read", ErrInvalidShape)
	}
	return points, nil
}

// WritePoints writes one point per line, coordinates separated by spaces.
func WritePoints(w io.Writer, points []Point) error {
	bw := bufio.NewWriter(w)
	for _, p := range points {
		for i, x := range p.X {
			if i > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
