package dataset

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/copyleftdev/surrogate/internal/optimization"
)

// CSVOptions controls ReadCSV.
type CSVOptions struct {
	// Header skips the first record.
	Header bool
	// IDColumn reads the first column as the row id.
	IDColumn bool
	// Unlabeled means every numeric column is a feature and labels are zero.
	Unlabeled bool
}

// ReadCSV reads rows of the form [id,] f1, ..., fD[, label].
func ReadCSV(r io.Reader, opts CSVOptions) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading csv")
	}
	if opts.Header && len(records) > 0 {
		records = records[1:]
	}

	ds := New(0)
	for i, rec := range records {
		id := ""
		if opts.IDColumn {
			if len(rec) == 0 {
				return nil, optimization.NewInvalidFeatureError(i, -1, 0, "missing id column")
			}
			id = strings.TrimSpace(rec[0])
			rec = rec[1:]
		}
		nums := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, optimization.NewInvalidFeatureError(i, j, 0, "not a number: "+field)
			}
			nums[j] = v
		}
		features, label := nums, 0.0
		if !opts.Unlabeled {
			if len(nums) < 2 {
				return nil, optimization.NewInvalidFeatureError(i, -1, 0, "need at least one feature and a label")
			}
			features, label = nums[:len(nums)-1], nums[len(nums)-1]
		}
		if _, err := ds.Add(id, FeatureVector(features), label); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// WriteCSV writes rows as id, f1, ..., fD, label.
func WriteCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	for _, r := range ds.Rows() {
		rec := make([]string, 0, len(r.Features)+2)
		rec = append(rec, r.ID)
		for _, x := range r.Features {
			rec = append(rec, strconv.FormatFloat(x, 'g', -1, 64))
		}
		rec = append(rec, strconv.FormatFloat(r.Label, 'g', -1, 64))
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "writing csv")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}
