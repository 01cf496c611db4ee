// SPDX-License-Identifier: Apache-2.0

package store

import "github.com/arrayvc/arrayvc/modules/digest"

// MergeSnapshots implements spec.md §4.5 end to end over three full
// RefSnapshots: schemas and metadata are diffed directly; per-arrayset
// samples are diffed only for arraysets present in both master and dev
// after the schema layer is resolved, per "Apply at three layers:
// schemas (per-arrayset), samples (per-arrayset, only for arraysets
// present in both master and dev), metadata."
func MergeSnapshots(ancestor, master, dev *RefSnapshot) (*RefSnapshot, []Conflict) {
	var conflicts []Conflict

	baseSchemas := schemaHashes(ancestor)
	masterSchemas := schemaHashes(master)
	devSchemas := schemaHashes(dev)
	schemaTW := DiffThreeWay(baseSchemas, masterSchemas, devSchemas)
	conflicts = append(conflicts, DetectConflicts("schemas", schemaTW)...)

	mergedSchemaHashes := ApplyPatch(masterSchemas, schemaTW)

	merged := newRefSnapshot()
	for name, hash := range mergedSchemaHashes {
		mRec, mOk := master.Arraysets[name]
		dRec, dOk := dev.Arraysets[name]
		schema := resolveSchema(name, hash, master, dev)

		switch {
		case dOk && !mOk:
			// "if an arrayset exists in dev but not master, take dev's
			// sample map wholesale" (spec.md §4.5).
			merged.Arraysets[name] = cloneArrayset(dRec)
			continue
		case !dOk:
			if mOk {
				merged.Arraysets[name] = cloneArrayset(mRec)
			} else {
				merged.Arraysets[name] = newArraysetRecord(name, schema)
			}
			continue
		}

		aRec := ancestor.Arraysets[name] // nil if absent, sampleDigests handles it
		baseSamples := sampleDigests(aRec)
		masterSamples := sampleDigests(mRec)
		devSamples := sampleDigests(dRec)
		sampleTW := DiffThreeWay(baseSamples, masterSamples, devSamples)
		conflicts = append(conflicts, DetectConflicts("samples:"+name, sampleTW)...)

		if _, ok := schemaTW.Master.Mutated[name]; ok && devTouched(sampleTW.Dev) {
			conflicts = append(conflicts, Conflict{Layer: "schemas", Key: name, Kind: ConflictTypeStructure})
		}
		if _, ok := schemaTW.Dev.Mutated[name]; ok && devTouched(sampleTW.Master) {
			conflicts = append(conflicts, Conflict{Layer: "schemas", Key: name, Kind: ConflictTypeStructure})
		}

		mergedSamples := ApplyPatch(masterSamples, sampleTW)
		rec := newArraysetRecord(name, schema)
		rec.Samples = mergedSamples
		merged.Arraysets[name] = rec
	}

	metaTW := DiffThreeWay(map[string]string(ancestor.Metadata), map[string]string(master.Metadata), map[string]string(dev.Metadata))
	conflicts = append(conflicts, DetectConflicts("metadata", metaTW)...)
	merged.Metadata = MetadataRecord(ApplyPatch(map[string]string(master.Metadata), metaTW))

	return merged, conflicts
}

func schemaHashes(s *RefSnapshot) map[string]string {
	out := make(map[string]string, len(s.Arraysets))
	for name, rec := range s.Arraysets {
		out[name] = rec.Schema.Hash().String()
	}
	return out
}

func resolveSchema(name, hash string, master, dev *RefSnapshot) Schema {
	if rec, ok := master.Arraysets[name]; ok && rec.Schema.Hash().String() == hash {
		return rec.Schema
	}
	if rec, ok := dev.Arraysets[name]; ok {
		return rec.Schema
	}
	if rec, ok := master.Arraysets[name]; ok {
		return rec.Schema
	}
	return Schema{}
}

func sampleDigests(rec *ArraysetRecord) map[string]digest.Digest {
	if rec == nil {
		return map[string]digest.Digest{}
	}
	return rec.Samples
}

func devTouched(cs *ChangeSet[digest.Digest]) bool {
	return len(cs.Added) > 0 || len(cs.Removed) > 0 || len(cs.Mutated) > 0
}

func cloneArrayset(rec *ArraysetRecord) *ArraysetRecord {
	out := newArraysetRecord(rec.Name, rec.Schema)
	for k, v := range rec.Samples {
		out.Samples[k] = v
	}
	return out
}
