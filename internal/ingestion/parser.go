package ingestion

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rpattn/sheetpipe/internal/domain"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DefaultParseChunkSize is the number of rows read per window when none is configured.
const DefaultParseChunkSize = 10000

// Parser streams workbook sheets into row records.
type Parser struct {
	chunkSize int
	logger    *zap.Logger
}

// NewParser creates a parser that reads chunkSize rows at a time.
func NewParser(chunkSize int, logger *zap.Logger) *Parser {
	if chunkSize <= 0 {
		chunkSize = DefaultParseChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{chunkSize: chunkSize, logger: logger}
}

// ParseFile reads every non-empty sheet of the workbook at path. Any error
// discards the records read so far.
func (p *Parser) ParseFile(path string) ([]domain.RowRecord, error) {
	it, err := p.Open(path)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var records []domain.RowRecord
	for it.Next() {
		records = append(records, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	p.logger.Info("parsed workbook", zap.String("path", path), zap.Int("rows", len(records)))
	return records, nil
}

// Open starts a lazy, single-pass iteration over the workbook at path.
func (p *Parser) Open(path string) (*RowIterator, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	return &RowIterator{
		file:      file,
		sheets:    file.GetSheetList(),
		chunkSize: p.chunkSize,
		logger:    p.logger,
	}, nil
}

// RowIterator yields row records sheet by sheet in workbook order. Rows are
// pulled from the workbook in windows of chunkSize records. Each sheet is read
// through two readers in lockstep: one with display formatting applied and one
// with the stored cell values.
type RowIterator struct {
	file      *excelize.File
	sheets    []string
	nextSheet int
	chunkSize int
	logger    *zap.Logger

	rows     *excelize.Rows
	raw      *excelize.Rows
	sheet    string
	headers  []string
	seen     map[string]int
	rowIndex int

	window  []domain.RowRecord
	pos     int
	current domain.RowRecord
	err     error
	done    bool
}

// Next advances to the next record. It returns false when the workbook is
// exhausted or an error occurred; check Err afterwards.
func (it *RowIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	if it.pos >= len(it.window) {
		if err := it.fill(); err != nil {
			it.err = err
			return false
		}
		if len(it.window) == 0 {
			it.done = true
			return false
		}
	}
	it.current = it.window[it.pos]
	it.pos++
	return true
}

// Record returns the record produced by the last call to Next.
func (it *RowIterator) Record() domain.RowRecord {
	return it.current
}

// Err returns the first error hit while iterating.
func (it *RowIterator) Err() error {
	return it.err
}

// Close releases the workbook. It is safe to call more than once.
func (it *RowIterator) Close() error {
	var errs []error
	if it.rows != nil {
		errs = append(errs, it.rows.Close(), it.raw.Close())
		it.rows = nil
		it.raw = nil
	}
	if it.file != nil {
		errs = append(errs, it.file.Close())
		it.file = nil
	}
	it.done = true
	return errors.Join(errs...)
}

func (it *RowIterator) fill() error {
	it.window = it.window[:0]
	it.pos = 0

	for len(it.window) < it.chunkSize {
		if it.rows == nil {
			if it.nextSheet >= len(it.sheets) {
				break
			}
			sheet := it.sheets[it.nextSheet]
			it.nextSheet++
			if err := it.openSheet(sheet); err != nil {
				return err
			}
			continue
		}

		formatted, raw, ok, err := it.nextRow()
		if err != nil {
			return fmt.Errorf("failed to read row in sheet %q: %w", it.sheet, err)
		}
		if !ok {
			if err := it.finishSheet(); err != nil {
				return err
			}
			if len(it.window) > 0 {
				break
			}
			continue
		}
		if isEmptyRow(formatted) {
			continue
		}
		it.rowIndex++
		it.window = append(it.window, it.buildRecord(formatted, raw))
	}

	if len(it.window) > 0 {
		it.logger.Debug("read row window",
			zap.String("sheet", it.window[0].SheetName),
			zap.Int("from", it.window[0].RowIndex),
			zap.Int("to", it.window[len(it.window)-1].RowIndex),
		)
	}
	return nil
}

// openSheet positions the iterator on the first data row of sheet. The header
// is widened to the widest row of the sheet so that every record carries the
// same columns. A sheet with no header row is finished immediately.
func (it *RowIterator) openSheet(sheet string) error {
	width, err := it.sheetWidth(sheet)
	if err != nil {
		return err
	}

	rows, err := it.file.Rows(sheet)
	if err != nil {
		return fmt.Errorf("failed to open sheet %q: %w", sheet, err)
	}
	raw, err := it.file.Rows(sheet)
	if err != nil {
		rows.Close()
		return fmt.Errorf("failed to open sheet %q: %w", sheet, err)
	}
	it.rows = rows
	it.raw = raw
	it.sheet = sheet
	it.rowIndex = 0
	it.headers = nil
	it.seen = make(map[string]int)

	for {
		cells, _, ok, err := it.nextRow()
		if err != nil {
			return fmt.Errorf("failed to read header of sheet %q: %w", sheet, err)
		}
		if !ok {
			return it.finishSheet()
		}
		if isEmptyRow(cells) {
			continue
		}
		it.extendHeaders(cells)
		if width > len(it.headers) {
			it.extendHeaders(make([]string, width-len(it.headers)))
		}
		return nil
	}
}

// sheetWidth scans sheet once and returns the position of the right-most
// non-blank cell.
func (it *RowIterator) sheetWidth(sheet string) (int, error) {
	rows, err := it.file.Rows(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to open sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	width := 0
	for rows.Next() {
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return 0, fmt.Errorf("failed to scan sheet %q: %w", sheet, err)
		}
		for i := len(cells); i > width; i-- {
			if strings.TrimSpace(cells[i-1]) != "" {
				width = i
				break
			}
		}
	}
	if err := rows.Error(); err != nil {
		return 0, fmt.Errorf("failed to scan sheet %q: %w", sheet, err)
	}
	return width, nil
}

// nextRow advances both readers and returns the formatted and stored values
// of the row.
func (it *RowIterator) nextRow() (formatted, raw []string, ok bool, err error) {
	if !it.rows.Next() {
		return nil, nil, false, it.rows.Error()
	}
	it.raw.Next()
	if formatted, err = it.rows.Columns(); err != nil {
		return nil, nil, false, err
	}
	if raw, err = it.raw.Columns(excelize.Options{RawCellValue: true}); err != nil {
		return nil, nil, false, err
	}
	return formatted, raw, true, nil
}

func (it *RowIterator) finishSheet() error {
	if it.rows == nil {
		return nil
	}
	err := errors.Join(it.rows.Close(), it.raw.Close())
	it.rows = nil
	it.raw = nil
	if err != nil {
		return fmt.Errorf("failed to close sheet %q: %w", it.sheet, err)
	}
	if it.rowIndex == 0 {
		it.logger.Warn("sheet is empty, skipping", zap.String("sheet", it.sheet))
	} else {
		it.logger.Info("parsed sheet", zap.String("sheet", it.sheet), zap.Int("rows", it.rowIndex))
	}
	return nil
}

func (it *RowIterator) buildRecord(formatted, raw []string) domain.RowRecord {
	payload := domain.NewPayload(len(it.headers))
	for idx, header := range it.headers {
		payload.Set(header, cellValue(cellAt(formatted, idx), cellAt(raw, idx)))
	}

	return domain.RowRecord{
		SheetName: it.sheet,
		RowIndex:  it.rowIndex,
		Payload:   payload,
		Status:    domain.RowStatusPending,
	}
}

// extendHeaders appends unique column names for raw. Blank names become
// column_N by position and repeats get a numeric suffix.
func (it *RowIterator) extendHeaders(raw []string) {
	for _, value := range raw {
		position := len(it.headers) + 1
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", position)
		}

		if it.seen[name] > 0 {
			base := name
			for n := it.seen[base] + 1; ; n++ {
				candidate := fmt.Sprintf("%s_%d", base, n)
				if it.seen[candidate] == 0 {
					it.seen[base] = n
					name = candidate
					break
				}
			}
		}
		it.seen[name]++

		it.headers = append(it.headers, name)
	}
}

// decoratedNumber matches numbers displayed with grouping separators,
// currency symbols, percent signs or accounting parentheses.
var decoratedNumber = regexp.MustCompile(`^[\s$€£¥(+-]*\d[\d,.\s]*[\s%)$€£¥]*$`)

// cellValue types a cell from its displayed text. When the display format
// only decorates a number, the stored number is used instead; dates and
// times keep their displayed text.
func cellValue(formatted, raw string) any {
	value := domain.InferScalar(formatted)
	if _, isText := value.(string); !isText || raw == formatted || !decoratedNumber.MatchString(formatted) {
		return value
	}
	switch number := domain.InferScalar(raw).(type) {
	case int64, float64:
		return number
	}
	return value
}

func cellAt(cells []string, idx int) string {
	if idx < len(cells) {
		return cells[idx]
	}
	return ""
}

func isEmptyRow(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
