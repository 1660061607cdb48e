package cardexport

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/domain/merchant"
	"tally/internal/domain/record"
)

// Canonical column names and the header spellings that map onto them.
// Exports differ per issuer; the parser is header-driven, not positional.
var headerAliases = map[string]string{
	"date":               "date",
	"transaction date":   "date",
	"posted date":        "date",
	"description":        "description",
	"merchant":           "description",
	"details":            "description",
	"narrative":          "description",
	"amount":             "amount",
	"value":              "amount",
	"currency":           "currency",
	"type":               "type",
	"debit/credit":       "type",
	"network":            "network",
	"scheme":             "network",
	"last4":              "last4",
	"last 4":             "last4",
	"card last 4":        "last4",
	"auth code":          "authcode",
	"authorization code": "authcode",
	"reference":          "reference",
	"ref":                "reference",
}

var requiredColumns = []string{"date", "description", "amount", "currency"}

var dateFormats = []string{"2006-01-02", "02/01/2006", "02 Jan 2006"}

// ErrNoHeader means the file has no usable header row.
var ErrNoHeader = errors.New("card export has no recognizable header row")

// Parse reads a card-network CSV export into normalized records. Malformed
// rows are skipped and reported by row number; they never abort the file.
// Exports carry no stable ids, so each row gets a deterministic id derived
// from its content; re-uploading the same file produces the same ids.
func Parse(r io.Reader, userID int64) ([]record.Upsert, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, ErrNoHeader
	}
	columns, err := mapHeader(header)
	if err != nil {
		return nil, nil, err
	}

	var (
		upserts  []record.Upsert
		rowErrs  []string
		ordinals = map[string]int{}
	)
	for rowNum := 2; ; rowNum++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}

		u, err := parseRow(row, columns, userID, ordinals)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		upserts = append(upserts, *u)
	}
	return upserts, rowErrs, nil
}

func mapHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		name, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]
		if !ok {
			continue
		}
		if _, taken := columns[name]; !taken {
			columns[name] = i
		}
	}
	for _, req := range requiredColumns {
		if _, ok := columns[req]; !ok {
			return nil, fmt.Errorf("%w: missing %q column", ErrNoHeader, req)
		}
	}
	return columns, nil
}

func parseRow(row []string, columns map[string]int, userID int64, ordinals map[string]int) (*record.Upsert, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	occurredAt, err := parseDate(field("date"))
	if err != nil {
		return nil, err
	}

	amount, err := parseAmount(field("amount"))
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(field("type")) {
	case "debit":
		amount = amount.Abs().Neg()
	case "credit":
		amount = amount.Abs()
	}

	currency := strings.ToUpper(field("currency"))
	if currency == "" {
		return nil, errors.New("missing currency")
	}
	description := field("description")
	if description == "" {
		return nil, errors.New("missing description")
	}

	externalID := field("reference")
	if externalID == "" {
		externalID = deriveID(occurredAt, amount, currency, description, ordinals)
	}

	return &record.Upsert{
		UserID:             userID,
		SourceType:         record.SourceCardExport,
		ExternalID:         externalID,
		Amount:             amount,
		Currency:           currency,
		OccurredAt:         occurredAt,
		RawMerchant:        description,
		NormalizedMerchant: merchant.Normalize(description),
		Detail: record.CardDetail{
			Network:  field("network"),
			Last4:    field("last4"),
			AuthCode: field("authcode"),
		},
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing date")
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errors.New("missing amount")
	}
	cleaned := strings.NewReplacer("£", "", "$", "", "€", "", ",", "", " ", "").Replace(s)
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable amount %q", s)
	}
	return amount, nil
}

// deriveID builds a stable id from row content. Identical rows in one file
// get distinct ordinals so a genuine repeat purchase is not collapsed.
func deriveID(occurredAt time.Time, amount decimal.Decimal, currency, description string, ordinals map[string]int) string {
	key := strings.Join([]string{
		occurredAt.Format("2006-01-02"),
		amount.String(),
		currency,
		strings.ToLower(description),
	}, "|")
	ordinals[key]++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", key, ordinals[key])))
	return "row-" + hex.EncodeToString(sum[:8])
}
