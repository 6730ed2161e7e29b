package allocation

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-claims-go/pkg/merkle"
	"github.com/Layr-Labs/eigenx-claims-go/pkg/types"
)

// ParseCSV reads "address,amount" records; columns after the second are ignored.
//
// Blank lines are skipped. A header row is detected heuristically: the first record is
// treated as a header when its first column is not an address and its second column is
// not an integer. Records missing either field, or that fail to parse, are skipped with a
// warning rather than aborting the import; field validation is left to Normalize.
func ParseCSV(r io.Reader, logger *zap.Logger) ([]*types.RawAllocation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	records := make([]*types.RawAllocation, 0)
	seenFirstRecord := false

	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				logger.Sugar().Warnw("Skipping malformed CSV line",
					"line", parseErr.StartLine, "reason", parseErr.Err.Error())
				continue
			}
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		line, _ := reader.FieldPos(0)

		wallet := ""
		amount := ""
		if len(fields) > 0 {
			wallet = cleanField(strings.TrimPrefix(fields[0], "\ufeff"))
		}
		if len(fields) > 1 {
			amount = cleanField(fields[1])
		}
		if wallet == "" && amount == "" && len(fields) <= 2 {
			continue
		}

		if !seenFirstRecord {
			seenFirstRecord = true
			if isHeaderRow(wallet, amount) {
				logger.Sugar().Debugw("Skipping CSV header row", "line", line)
				continue
			}
		}

		if wallet == "" || amount == "" {
			logger.Sugar().Warnw("Skipping malformed CSV line",
				"line", line, "content", strings.Join(fields, ","), "reason", "missing wallet address or amount")
			continue
		}

		records = append(records, &types.RawAllocation{WalletAddress: wallet, Amount: amount})
	}

	return records, nil
}

// ParseJSON accepts either a bare array of {walletAddress, amount} records or an object
// with an "allocations" array. Numeric amounts are kept as their literal text.
func ParseJSON(data []byte) ([]*types.RawAllocation, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("allocation file is not valid JSON")
	}

	doc := gjson.ParseBytes(data)
	list := doc
	if doc.IsObject() {
		list = doc.Get("allocations")
		if !list.Exists() {
			return nil, fmt.Errorf("JSON object has no \"allocations\" field")
		}
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("allocations must be a JSON array")
	}

	items := list.Array()
	records := make([]*types.RawAllocation, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, &types.InvalidAllocationError{Index: i, Reason: "record is not a JSON object"}
		}

		wallet := item.Get("walletAddress")
		if !wallet.Exists() {
			wallet = item.Get("address")
		}

		records = append(records, &types.RawAllocation{
			WalletAddress: wallet.String(),
			Amount:        jsonAmount(item.Get("amount")),
		})
	}

	return records, nil
}

// ParseFile reads an allocation file and returns its records and detected source format.
// The format comes from the extension, falling back to sniffing the first byte.
func ParseFile(path string, logger *zap.Logger) ([]*types.RawAllocation, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read allocation file %s: %w", path, err)
	}

	source := detectSource(path, data)
	logger.Sugar().Infow("Parsing allocation file", "path", path, "format", source, "bytes", len(data))

	switch source {
	case types.SourceJSON:
		records, err := ParseJSON(data)
		return records, source, err
	default:
		records, err := ParseCSV(bytes.NewReader(data), logger)
		return records, source, err
	}
}

func detectSource(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return types.SourceJSON
	case ".csv":
		return types.SourceCSV
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return types.SourceJSON
	}
	return types.SourceCSV
}

func jsonAmount(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}

func isHeaderRow(first, second string) bool {
	if merkle.IsCanonicalAddress(first) {
		return false
	}
	_, err := types.ParseAmount(second)
	return err != nil
}

func cleanField(f string) string {
	return strings.Trim(strings.TrimSpace(f), `"'`)
}
