// Package consolidate merges several engram databases into one fresh store,
// deduplicating records by content identity. It is an offline maintenance
// operation: sources are opened read-only and never written beyond a WAL
// checkpoint, and the target must not already exist.
package consolidate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/lazypower/engram/internal/store"
)

// Summary reports what one consolidation run did.
type Summary struct {
	Sources          int      `json:"sources"`
	RecordsIn        int      `json:"records_in"`
	RecordsOut       int      `json:"records_out"`
	DuplicatesMerged int      `json:"duplicates_merged"`
	EntitiesIn       int      `json:"entities_in"`
	EntitiesOut      int      `json:"entities_out"`
	Links            int      `json:"links"`
	ProvenanceRows   int      `json:"provenance_rows"`
	Warnings         []string `json:"warnings,omitempty"`
}

// sourceData is everything read out of one source database.
type sourceData struct {
	path       string
	records    []store.Record
	entities   []store.Entity
	links      []store.RecordEntityLink
	provenance []store.Provenance
}

// Consolidate merges the source databases into a fresh target at targetPath.
//
// Records are identical when kind and content match exactly; of a duplicate
// set the copy with the greater last_accessed wins (first seen on ties) and
// access counts are summed. Entities dedupe by name, first seen wins. A
// missing source file is fatal; a source with unreadable tables degrades to
// whatever could be read, with a warning.
func Consolidate(targetPath string, sourcePaths []string) (*Summary, error) {
	if len(sourcePaths) == 0 {
		return nil, fmt.Errorf("no source databases given")
	}
	if _, err := os.Stat(targetPath); err == nil {
		return nil, fmt.Errorf("target %s already exists", targetPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat target: %w", err)
	}

	summary := &Summary{Sources: len(sourcePaths)}

	var sources []sourceData
	for _, path := range sourcePaths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("source %s: %w", path, err)
		}
		data, warnings, err := readSource(path)
		if err != nil {
			return nil, err
		}
		summary.Warnings = append(summary.Warnings, warnings...)
		sources = append(sources, *data)
	}

	merged := merge(sources, summary)

	target, err := store.Open(targetPath)
	if err != nil {
		return nil, fmt.Errorf("create target %s: %w", targetPath, err)
	}
	defer target.Close()

	if err := writeTarget(target, merged); err != nil {
		return nil, err
	}
	if err := target.OptimizeFTS(); err != nil {
		return nil, err
	}
	if err := target.Checkpoint(); err != nil {
		return nil, err
	}

	summary.RecordsOut = len(merged.records)
	summary.EntitiesOut = len(merged.entities)
	summary.Links = len(merged.links)
	summary.ProvenanceRows = len(merged.provenance)
	return summary, nil
}

// readSource opens one source read-only and reads all four tables. The
// read-only open runs no migrations, so a source at an older schema version
// stays at that version; its unreadable tables degrade to empty with a
// warning. Only open failures are fatal.
func readSource(path string) (*sourceData, []string, error) {
	// Flush the WAL through a short-lived plain handle so the read-only
	// reader sees everything committed. The checkpoint is the only write
	// consolidation ever makes against a source.
	if err := store.CheckpointFile(path); err != nil {
		log.Printf("consolidate: checkpoint %s: %v", path, err)
	}

	db, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open source %s: %w", path, err)
	}
	defer db.Close()

	data := &sourceData{path: path}
	var warnings []string
	warn := func(table string, err error) {
		msg := fmt.Sprintf("%s: reading %s: %v", path, table, err)
		log.Printf("consolidate: %s", msg)
		warnings = append(warnings, msg)
	}

	if data.records, err = db.AllRecords(); err != nil {
		warn("records", err)
		data.records = nil
	}
	if data.entities, err = db.AllEntities(); err != nil {
		warn("entities", err)
		data.entities = nil
	}
	if data.links, err = db.AllLinks(); err != nil {
		warn("record_entities", err)
		data.links = nil
	}
	if data.provenance, err = db.AllProvenance(); err != nil {
		warn("provenance", err)
		data.provenance = nil
	}
	return data, warnings, nil
}

type mergedData struct {
	records    []store.Record
	entities   []store.Entity
	links      []store.RecordEntityLink
	provenance []store.Provenance
}

func merge(sources []sourceData, summary *Summary) *mergedData {
	out := &mergedData{}

	// Records: dedupe on content identity, remap loser ids to the winner.
	recordIdx := make(map[string]int) // identity key -> index in out.records
	recordRemap := make(map[string]string)
	for _, src := range sources {
		for _, rec := range src.records {
			summary.RecordsIn++
			key := identityKey(rec.Kind, rec.Content)
			i, dup := recordIdx[key]
			if !dup {
				recordIdx[key] = len(out.records)
				recordRemap[rec.ID] = rec.ID
				out.records = append(out.records, rec)
				continue
			}

			summary.DuplicatesMerged++
			kept := &out.records[i]
			recordRemap[rec.ID] = kept.ID
			if rec.LastAccessed > kept.LastAccessed {
				// Later copy wins on recency but keeps the established id,
				// so earlier remaps stay valid.
				rec.ID = kept.ID
				rec.AccessCount += kept.AccessCount
				*kept = rec
			} else {
				kept.AccessCount += rec.AccessCount
			}
		}
	}

	// Entities: dedupe by name, first seen wins.
	entityIdx := make(map[string]string) // name -> kept entity id
	entityRemap := make(map[string]string)
	for _, src := range sources {
		for _, ent := range src.entities {
			summary.EntitiesIn++
			if keptID, dup := entityIdx[ent.Name]; dup {
				entityRemap[ent.ID] = keptID
				continue
			}
			entityIdx[ent.Name] = ent.ID
			entityRemap[ent.ID] = ent.ID
			out.entities = append(out.entities, ent)
		}
	}

	// Links: remap both sides, drop anything orphaned, dedupe.
	linkSeen := make(map[store.RecordEntityLink]bool)
	for _, src := range sources {
		for _, link := range src.links {
			recID, ok := recordRemap[link.RecordID]
			if !ok {
				continue
			}
			entID, ok := entityRemap[link.EntityID]
			if !ok {
				continue
			}
			l := store.RecordEntityLink{RecordID: recID, EntityID: entID}
			if linkSeen[l] {
				continue
			}
			linkSeen[l] = true
			out.links = append(out.links, l)
		}
	}

	// Provenance: remap record ids, drop orphans. Merged duplicates keep the
	// combined audit trail of every copy.
	for _, src := range sources {
		for _, p := range src.provenance {
			recID, ok := recordRemap[p.RecordID]
			if !ok {
				continue
			}
			p.RecordID = recID
			out.provenance = append(out.provenance, p)
		}
	}

	return out
}

// writeTarget loads the merged data in one transaction, in dependency order.
// The insert triggers populate the full-text index as rows land.
func writeTarget(db *store.DB, merged *mergedData) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin target tx: %w", err)
	}
	defer tx.Rollback()

	for i := range merged.records {
		if err := db.PutRecordTx(tx, &merged.records[i]); err != nil {
			return err
		}
	}
	for i := range merged.entities {
		if err := db.InsertEntityTx(tx, &merged.entities[i]); err != nil {
			return err
		}
	}
	for _, link := range merged.links {
		if err := db.LinkRecordEntityTx(tx, link.RecordID, link.EntityID); err != nil {
			return err
		}
	}
	for i := range merged.provenance {
		if err := db.AddProvenanceTx(tx, &merged.provenance[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit target tx: %w", err)
	}
	return nil
}

// identityKey is the content identity two records must share to be merged:
// an exact kind and content match.
func identityKey(kind, content string) string {
	sum := sha256.Sum256([]byte(kind + ":" + content))
	return hex.EncodeToString(sum[:])
}
