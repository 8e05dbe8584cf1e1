package gallery

import "facesync/internal/models"

// Merge folds snapshot into held. Records of held whose id is not in the
// snapshot keep their position; the snapshot follows them, each id once with
// its last value. Merging the same snapshot twice equals merging it once.
func Merge(held, snapshot []models.ImageRecord) []models.ImageRecord {
	incoming := dedupe(snapshot)
	if len(incoming) == 0 {
		return append([]models.ImageRecord(nil), held...)
	}

	seen := make(map[string]struct{}, len(incoming))
	for _, rec := range incoming {
		seen[rec.ID] = struct{}{}
	}

	merged := make([]models.ImageRecord, 0, len(held)+len(incoming))
	for _, rec := range held {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		merged = append(merged, rec)
	}
	return append(merged, incoming...)
}

// dedupe keeps the first position of each id and the last value seen for it.
func dedupe(records []models.ImageRecord) []models.ImageRecord {
	if len(records) == 0 {
		return nil
	}

	index := make(map[string]int, len(records))
	out := make([]models.ImageRecord, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.ID]; ok {
			out[i] = rec
			continue
		}
		index[rec.ID] = len(out)
		out = append(out, rec)
	}
	return out
}
