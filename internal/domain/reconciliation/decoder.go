package reconciliation

import "strconv"

// DecodeRequestBatches turns request records into batches in collection order.
//
// A record either embeds its lines under one of the line fields or is itself
// a single line. Consecutive records sharing a reference are merged into one
// batch; a reference that reappears later starts a new batch so SortBatches
// keeps collection order between equal serials. Default line refs count the
// lines of a reference across all of its batches.
func DecodeRequestBatches(records []Record, profile Profile) []RequestBatch {
	fields := profile.Requests
	seen := make(map[string]int)
	var batches []RequestBatch
	prev := ""

	for _, rec := range records {
		ref := rec.Identifier(fields.Ref)
		key := Normalize(ref)
		if key == "" || key != prev {
			batches = append(batches, RequestBatch{Ref: ref})
		}
		prev = key

		batch := &batches[len(batches)-1]
		lines, embedded := embeddedLines(rec, fields.Lines)
		if !embedded {
			lines = []Record{rec}
		}
		for _, line := range lines {
			position := len(batch.Lines) + 1
			if key != "" {
				seen[key]++
				position = seen[key]
			}
			batch.Lines = append(batch.Lines, decodeLine(line, profile, position))
		}
	}
	return batches
}

func decodeLine(line Record, profile Profile, position int) RequestLine {
	fields := profile.Requests
	lineRef := line.Identifier(fields.LineRef)
	if lineRef == "" {
		lineRef = strconv.Itoa(position)
	}
	closed, ok := line.Bool(fields.Closed)
	if !ok {
		closed = NormalizeLoose(line.Identifier(fields.Status)) == "CLOSED"
	}
	return RequestLine{
		LineRef: lineRef,
		Item: ItemRef{
			Code: line.Identifier(profile.Items.Code),
			Name: line.Identifier(profile.Items.Name),
		},
		RequestedQty: line.QuantityOrZero(fields.Requested),
		Closed:       closed,
	}
}

func embeddedLines(rec Record, fields FieldSet) ([]Record, bool) {
	for _, name := range fields.names {
		switch v := rec[name].(type) {
		case []Record:
			return v, true
		case []map[string]any:
			out := make([]Record, 0, len(v))
			for _, m := range v {
				out = append(out, Record(m))
			}
			return out, true
		case []any:
			out := make([]Record, 0, len(v))
			for _, item := range v {
				switch m := item.(type) {
				case map[string]any:
					out = append(out, Record(m))
				case Record:
					out = append(out, m)
				}
			}
			return out, true
		}
	}
	return nil, false
}
