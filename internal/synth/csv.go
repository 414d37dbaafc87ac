package synth

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/krishkpatil/CreditUdaan/internal/schema"
)

var csvHeader = []string{
	"group",
	"true_score",
	"credit_utilization",
	"late_payments",
	"avg_account_age",
	"negative_items",
	"credit_card",
	"loan",
	"mortgage",
	"other",
}

// WriteCSV streams the dataset to w, one sample per row after a header.
func WriteCSV(w io.Writer, ds Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(csvHeader))
	for i, s := range ds.Samples {
		row[0] = string(s.Group)
		row[1] = strconv.Itoa(s.TrueScore)
		row[2] = strconv.FormatFloat(s.Features.CreditUtilization, 'f', -1, 64)
		row[3] = strconv.Itoa(s.Features.PaymentHistory.Late)
		row[4] = strconv.FormatFloat(s.Features.AvgAccountAge, 'f', -1, 64)
		row[5] = strconv.Itoa(s.Features.NegativeItems)
		row[6] = strconv.Itoa(s.Features.AccountTypes[schema.AccountCreditCard])
		row[7] = strconv.Itoa(s.Features.AccountTypes[schema.AccountLoan])
		row[8] = strconv.Itoa(s.Features.AccountTypes[schema.AccountMortgage])
		row[9] = strconv.Itoa(s.Features.AccountTypes[schema.AccountOther])
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the dataset to a file, creating or truncating it.
func ExportCSV(path string, ds Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteCSV(bw, ds); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadCSV parses samples previously written by WriteCSV. The header row is
// validated so column drift fails loudly instead of silently shuffling fields.
func ReadCSV(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty input")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], name)
		}
	}

	var samples []Sample
	line := 1
	for {
		row, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return samples, nil
			}
			return samples, fmt.Errorf("read row: %w", err)
		}
		line++
		s, err := parseRow(row)
		if err != nil {
			return samples, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
}

// ImportCSV reads samples from a file written by ExportCSV.
func ImportCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func parseRow(row []string) (Sample, error) {
	score, err := strconv.Atoi(row[1])
	if err != nil {
		return Sample{}, fmt.Errorf("true_score: %w", err)
	}
	utilization, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("credit_utilization: %w", err)
	}
	late, err := strconv.Atoi(row[3])
	if err != nil {
		return Sample{}, fmt.Errorf("late_payments: %w", err)
	}
	age, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("avg_account_age: %w", err)
	}
	negatives, err := strconv.Atoi(row[5])
	if err != nil {
		return Sample{}, fmt.Errorf("negative_items: %w", err)
	}

	accounts := make(map[schema.AccountType]int)
	for i, kind := range []schema.AccountType{
		schema.AccountCreditCard,
		schema.AccountLoan,
		schema.AccountMortgage,
		schema.AccountOther,
	} {
		count, err := strconv.Atoi(row[6+i])
		if err != nil {
			return Sample{}, fmt.Errorf("%s: %w", kind, err)
		}
		if count > 0 {
			accounts[kind] = count
		}
	}

	return Sample{
		Features: schema.FeatureVector{
			CreditUtilization: utilization,
			PaymentHistory:    schema.PaymentSummary{Late: late},
			AvgAccountAge:     age,
			AccountTypes:      accounts,
			NegativeItems:     negatives,
		},
		TrueScore: score,
		Group:     GroupLabel(row[0]),
	}, nil
}
