package journal

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weft/internal/buffer"
	"weft/internal/clock"
	"weft/internal/epoch"
	"weft/internal/worktree"
)

func testReplica(n byte) clock.ReplicaId {
	var id clock.ReplicaId
	id[15] = n
	return id
}

func opStamp(replica clock.ReplicaId, seq uint64) clock.Local {
	return clock.Local{Replica: replica, Seq: seq}
}

func lamport(replica clock.ReplicaId, value uint64) clock.Lamport {
	return clock.Lamport{Value: value, Replica: replica}
}

func resetEnvelope(epochId clock.Lamport, head *worktree.Oid) worktree.OperationEnvelope {
	return worktree.OperationEnvelope{EpochId: epochId, EpochHead: head}
}

func insertEnvelope(epochId clock.Lamport, id clock.Local) worktree.OperationEnvelope {
	return worktree.OperationEnvelope{
		EpochId: epochId,
		Operation: &epoch.InsertMetadataOperation{
			FileId:           epoch.NewFileId(opStamp(id.Replica, id.Seq+100)),
			FileType:         epoch.FileTypeText,
			Parent:           &epoch.Parent{FileId: epoch.RootFileId, Name: "f"},
			LocalTimestamp:   id,
			LamportTimestamp: lamport(id.Replica, id.Seq+1),
		},
	}
}

func editEnvelope(epochId clock.Lamport, id clock.Local, ts clock.Lamport) worktree.OperationEnvelope {
	return worktree.OperationEnvelope{
		EpochId: epochId,
		Operation: &epoch.BufferOperation{
			FileId: epoch.BaseFileId(0),
			Operations: []buffer.Operation{
				&buffer.EditOperation{
					NewText:          buffer.NewText("x"),
					LocalTimestamp:   opStamp(id.Replica, id.Seq+200),
					LamportTimestamp: ts,
				},
			},
			LocalTimestamp:   id,
			LamportTimestamp: ts,
		},
	}
}

func selectionsOp(set clock.Local, id clock.Local, ts clock.Lamport, remove bool) *buffer.UpdateSelectionsOperation {
	op := &buffer.UpdateSelectionsOperation{
		SetId:            set,
		Remove:           remove,
		LocalTimestamp:   id,
		LamportTimestamp: ts,
	}
	if !remove {
		op.Selections = []buffer.Selection{{Start: buffer.StartAnchor(), End: buffer.EndAnchor()}}
	}
	return op
}

func selectionsEnvelope(epochId clock.Lamport, id clock.Local, set clock.Local, ts clock.Lamport, remove bool) worktree.OperationEnvelope {
	return worktree.OperationEnvelope{
		EpochId: epochId,
		Operation: &epoch.BufferOperation{
			FileId:           epoch.BaseFileId(0),
			Operations:       []buffer.Operation{selectionsOp(set, opStamp(id.Replica, id.Seq+200), ts, remove)},
			LocalTimestamp:   id,
			LamportTimestamp: ts,
		},
	}
}

func mixedEnvelope(epochId clock.Lamport, id clock.Local, set clock.Local, ts clock.Lamport) worktree.OperationEnvelope {
	return worktree.OperationEnvelope{
		EpochId: epochId,
		Operation: &epoch.BufferOperation{
			FileId: epoch.BaseFileId(0),
			Operations: []buffer.Operation{
				&buffer.EditOperation{
					NewText:          buffer.NewText("y"),
					LocalTimestamp:   opStamp(id.Replica, id.Seq+200),
					LamportTimestamp: ts,
				},
				selectionsOp(set, opStamp(id.Replica, id.Seq+201), ts, false),
			},
			LocalTimestamp:   id,
			LamportTimestamp: ts,
		},
	}
}

func locationEnvelope(epochId clock.Lamport, replica clock.ReplicaId, seq uint64, active bool) worktree.OperationEnvelope {
	return worktree.OperationEnvelope{
		EpochId: epochId,
		Location: &worktree.LocationUpdate{
			Replica:          replica,
			FileId:           epoch.BaseFileId(0),
			Active:           active,
			LocalTimestamp:   opStamp(replica, seq),
			LamportTimestamp: lamport(replica, seq+1),
		},
	}
}

func TestRecordRoundTrip(t *testing.T) {
	r1, r2 := testReplica(1), testReplica(2)
	epochId := lamport(r1, 3)
	head := worktree.Oid{1, 2, 3}
	at := time.Unix(0, 1724580000000000000).UTC()

	edit := &buffer.EditOperation{
		StartId:          opStamp(r1, 4),
		StartOffset:      2,
		EndId:            opStamp(r2, 7),
		EndOffset:        5,
		VersionInRange:   clock.Global{r1: 4, r2: 7},
		NewText:          buffer.NewText("hello\nworld"),
		LocalTimestamp:   opStamp(r1, 8),
		LamportTimestamp: lamport(r1, 9),
	}

	cases := []struct {
		name string
		rec  Record
	}{
		{"epoch start", Record{RecordedAt: at, Envelope: resetEnvelope(epochId, &head)}},
		{"epoch start without head", Record{RecordedAt: at, Envelope: resetEnvelope(epochId, nil)}},
		{"insert metadata", Record{RecordedAt: at, Envelope: insertEnvelope(epochId, opStamp(r1, 1))}},
		{"update parent", Record{RecordedAt: at, Envelope: worktree.OperationEnvelope{
			EpochId:   epochId,
			EpochHead: &head,
			Operation: &epoch.UpdateParentOperation{
				ChildId:          epoch.BaseFileId(2),
				LocalTimestamp:   opStamp(r2, 3),
				LamportTimestamp: lamport(r2, 4),
			},
		}}},
		{"buffer operations", Record{RecordedAt: at, Envelope: worktree.OperationEnvelope{
			EpochId:   epochId,
			EpochHead: &head,
			Operation: &epoch.BufferOperation{
				FileId: epoch.BaseFileId(0),
				Operations: []buffer.Operation{
					edit,
					selectionsOp(opStamp(r1, 2), opStamp(r1, 10), lamport(r1, 11), false),
					selectionsOp(opStamp(r2, 2), opStamp(r1, 12), lamport(r1, 13), true),
				},
				LocalTimestamp:   opStamp(r1, 14),
				LamportTimestamp: lamport(r1, 15),
			},
		}}},
		{"location update", Record{RecordedAt: at, Envelope: locationEnvelope(epochId, r2, 6, true)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteRecord(&buf, tc.rec))
			got, err := ReadRecord(&buf)
			require.NoError(t, err)
			require.Equal(t, tc.rec, got)
		})
	}
}

func TestReadRecordCorrupt(t *testing.T) {
	r1 := testReplica(1)
	rec := Record{
		RecordedAt: time.Unix(0, 1724580000000000000).UTC(),
		Envelope:   insertEnvelope(lamport(r1, 1), opStamp(r1, 1)),
	}
	encode := func(t *testing.T) []byte {
		var buf bytes.Buffer
		require.NoError(t, WriteRecord(&buf, rec))
		return buf.Bytes()
	}

	t.Run("unknown kind", func(t *testing.T) {
		data := encode(t)
		data[0] = 0x7f
		_, err := ReadRecord(bytes.NewReader(data))
		require.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("kind and payload disagree", func(t *testing.T) {
		data := encode(t)
		data[0] = kindReset
		_, err := ReadRecord(bytes.NewReader(data))
		require.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("oversized payload", func(t *testing.T) {
		data := encode(t)
		binary.BigEndian.PutUint32(data[33:37], maxPayload+1)
		_, err := ReadRecord(bytes.NewReader(data))
		require.ErrorIs(t, err, ErrCorruptRecord)
	})
}

func TestAppendLoadAll(t *testing.T) {
	j := Open(t.TempDir())

	envelopes, err := j.LoadAll()
	require.NoError(t, err)
	require.Empty(t, envelopes)

	r1 := testReplica(1)
	epochId := lamport(r1, 1)
	head := worktree.Oid{9}
	batch := []worktree.OperationEnvelope{
		resetEnvelope(epochId, &head),
		insertEnvelope(epochId, opStamp(r1, 1)),
	}
	require.NoError(t, j.Append(batch...))
	require.NoError(t, j.Append(locationEnvelope(epochId, r1, 0, true)))
	require.NoError(t, j.Append())

	envelopes, err = j.LoadAll()
	require.NoError(t, err)
	require.Equal(t, append(batch, locationEnvelope(epochId, r1, 0, true)), envelopes)
}

func TestLoadAllTruncatedTail(t *testing.T) {
	j := Open(t.TempDir())
	r1 := testReplica(1)
	epochId := lamport(r1, 1)
	envelopes := []worktree.OperationEnvelope{
		resetEnvelope(epochId, nil),
		insertEnvelope(epochId, opStamp(r1, 1)),
		insertEnvelope(epochId, opStamp(r1, 2)),
	}
	require.NoError(t, j.Append(envelopes...))

	info, err := os.Stat(j.Path())
	require.NoError(t, err)
	require.NoError(t, os.Truncate(j.Path(), info.Size()-5))

	loaded, err := j.LoadAll()
	require.NoError(t, err)
	require.Equal(t, envelopes[:2], loaded)
}

func TestLoadAllCorruptMiddle(t *testing.T) {
	j := Open(t.TempDir())
	r1 := testReplica(1)
	epochId := lamport(r1, 1)
	envelopes := []worktree.OperationEnvelope{
		resetEnvelope(epochId, nil),
		insertEnvelope(epochId, opStamp(r1, 1)),
		insertEnvelope(epochId, opStamp(r1, 2)),
	}
	require.NoError(t, j.Append(envelopes...))

	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, Record{RecordedAt: time.Now().UTC(), Envelope: envelopes[0]}))

	f, err := os.OpenFile(j.Path(), os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0x7f}, int64(buf.Len()))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	loaded, err := j.LoadAll()
	require.NoError(t, err)
	require.Equal(t, envelopes[:1], loaded)
}

func TestVersion(t *testing.T) {
	j := Open(t.TempDir())
	r1, r2 := testReplica(1), testReplica(2)
	oldEpoch := lamport(r1, 1)
	newEpoch := lamport(r2, 5)
	require.NoError(t, j.Append(
		resetEnvelope(oldEpoch, nil),
		insertEnvelope(oldEpoch, opStamp(r1, 7)),
		resetEnvelope(newEpoch, nil),
		insertEnvelope(newEpoch, opStamp(r1, 1)),
		insertEnvelope(newEpoch, opStamp(r1, 2)),
		insertEnvelope(newEpoch, opStamp(r2, 4)),
		locationEnvelope(newEpoch, r2, 9, true),
	))

	version, err := j.Version()
	require.NoError(t, err)
	require.Equal(t, clock.Global{r1: 2, r2: 4}, version)
}

func TestSync(t *testing.T) {
	a := Open(t.TempDir())
	b := Open(t.TempDir())
	r1, r2 := testReplica(1), testReplica(2)
	epochId := lamport(r1, 1)
	e1 := resetEnvelope(epochId, nil)
	e2 := insertEnvelope(epochId, opStamp(r1, 1))
	e3 := insertEnvelope(epochId, opStamp(r2, 1))
	e4 := locationEnvelope(epochId, r2, 0, true)
	require.NoError(t, a.Append(e1, e2))
	require.NoError(t, b.Append(e1, e3, e4))

	pulled, pushed, err := a.Sync(b)
	require.NoError(t, err)
	require.Equal(t, []worktree.OperationEnvelope{e3, e4}, pulled)
	require.Equal(t, 1, pushed)

	la, err := a.LoadAll()
	require.NoError(t, err)
	lb, err := b.LoadAll()
	require.NoError(t, err)
	require.Len(t, la, 4)
	require.ElementsMatch(t, la, lb)

	pulled, pushed, err = a.Sync(b)
	require.NoError(t, err)
	require.Empty(t, pulled)
	require.Zero(t, pushed)
}

func TestCompactRecords(t *testing.T) {
	r1, r2 := testReplica(1), testReplica(2)
	now := time.Unix(0, 1700000000000000000).UTC()
	cutoff := now.Add(-time.Hour)
	fresh := now
	stale := now.Add(-2 * time.Hour)

	oldEpoch := lamport(r1, 1)
	newEpoch := lamport(r1, 4)
	head := worktree.Oid{1}

	rec := func(at time.Time, envelope worktree.OperationEnvelope) Record {
		return Record{RecordedAt: at, Envelope: envelope}
	}

	t.Run("drops superseded epochs", func(t *testing.T) {
		records := []Record{
			rec(stale, resetEnvelope(oldEpoch, nil)),
			rec(stale, insertEnvelope(oldEpoch, opStamp(r1, 1))),
			rec(fresh, resetEnvelope(newEpoch, &head)),
			rec(fresh, insertEnvelope(newEpoch, opStamp(r1, 1))),
		}
		require.Equal(t, records[2:], compactRecords(records, cutoff))
	})

	t.Run("keeps tree and text operations", func(t *testing.T) {
		records := []Record{
			rec(fresh, resetEnvelope(newEpoch, &head)),
			rec(stale, insertEnvelope(newEpoch, opStamp(r1, 1))),
			rec(stale, editEnvelope(newEpoch, opStamp(r1, 2), lamport(r1, 5))),
			rec(stale, editEnvelope(newEpoch, opStamp(r1, 3), lamport(r1, 6))),
		}
		require.Equal(t, records, compactRecords(records, cutoff))
	})

	t.Run("drops overwritten selections", func(t *testing.T) {
		set := opStamp(r1, 50)
		records := []Record{
			rec(fresh, resetEnvelope(newEpoch, &head)),
			rec(fresh, selectionsEnvelope(newEpoch, opStamp(r1, 1), set, lamport(r1, 5), false)),
			rec(fresh, selectionsEnvelope(newEpoch, opStamp(r1, 2), set, lamport(r1, 7), false)),
		}
		require.Equal(t, []Record{records[0], records[2]}, compactRecords(records, cutoff))
	})

	t.Run("mixed operations supersede selection-only ones", func(t *testing.T) {
		set := opStamp(r1, 50)
		records := []Record{
			rec(fresh, resetEnvelope(newEpoch, &head)),
			rec(fresh, selectionsEnvelope(newEpoch, opStamp(r1, 1), set, lamport(r1, 5), false)),
			rec(fresh, mixedEnvelope(newEpoch, opStamp(r1, 2), set, lamport(r1, 9))),
		}
		require.Equal(t, []Record{records[0], records[2]}, compactRecords(records, cutoff))
	})

	t.Run("expires removed selection sets", func(t *testing.T) {
		set := opStamp(r1, 50)
		records := []Record{
			rec(fresh, resetEnvelope(newEpoch, &head)),
			rec(stale, selectionsEnvelope(newEpoch, opStamp(r1, 1), set, lamport(r1, 5), false)),
			rec(stale, selectionsEnvelope(newEpoch, opStamp(r1, 2), set, lamport(r1, 7), true)),
		}
		require.Equal(t, records[:1], compactRecords(records, cutoff))
	})

	t.Run("keeps recent removals", func(t *testing.T) {
		set := opStamp(r1, 50)
		records := []Record{
			rec(fresh, resetEnvelope(newEpoch, &head)),
			rec(stale, selectionsEnvelope(newEpoch, opStamp(r1, 1), set, lamport(r1, 5), false)),
			rec(fresh, selectionsEnvelope(newEpoch, opStamp(r1, 2), set, lamport(r1, 7), true)),
		}
		require.Equal(t, []Record{records[0], records[2]}, compactRecords(records, cutoff))
	})

	t.Run("drops overwritten locations", func(t *testing.T) {
		records := []Record{
			rec(fresh, resetEnvelope(newEpoch, &head)),
			rec(fresh, locationEnvelope(newEpoch, r2, 0, true)),
			rec(fresh, locationEnvelope(newEpoch, r2, 1, true)),
		}
		require.Equal(t, []Record{records[0], records[2]}, compactRecords(records, cutoff))
	})

	t.Run("expires location clears", func(t *testing.T) {
		records := []Record{
			rec(fresh, resetEnvelope(newEpoch, &head)),
			rec(stale, locationEnvelope(newEpoch, r2, 0, true)),
			rec(stale, locationEnvelope(newEpoch, r2, 1, false)),
		}
		require.Equal(t, records[:1], compactRecords(records, cutoff))
	})

	t.Run("keeps the newest epoch reachable", func(t *testing.T) {
		set := opStamp(r1, 50)
		records := []Record{
			rec(stale, selectionsEnvelope(newEpoch, opStamp(r1, 1), set, lamport(r1, 5), false)),
			rec(stale, selectionsEnvelope(newEpoch, opStamp(r1, 2), set, lamport(r1, 7), true)),
		}
		require.Equal(t, records[1:], compactRecords(records, cutoff))
	})
}

func TestCompactor(t *testing.T) {
	t.Run("compacts the log", func(t *testing.T) {
		j := Open(t.TempDir())
		r1 := testReplica(1)
		oldEpoch := lamport(r1, 1)
		newEpoch := lamport(r1, 3)
		head := worktree.Oid{1}
		require.NoError(t, j.Append(
			resetEnvelope(oldEpoch, nil),
			insertEnvelope(oldEpoch, opStamp(r1, 1)),
			resetEnvelope(newEpoch, &head),
			insertEnvelope(newEpoch, opStamp(r1, 1)),
			locationEnvelope(newEpoch, r1, 0, true),
			locationEnvelope(newEpoch, r1, 1, true),
		))

		compactor := NewCompactor(j, &Config{Interval: time.Hour, TombstoneTTL: time.Hour})
		dropped, err := compactor.Compact()
		require.NoError(t, err)
		require.Equal(t, 3, dropped)

		envelopes, err := j.LoadAll()
		require.NoError(t, err)
		require.Equal(t, []worktree.OperationEnvelope{
			resetEnvelope(newEpoch, &head),
			insertEnvelope(newEpoch, opStamp(r1, 1)),
			locationEnvelope(newEpoch, r1, 1, true),
		}, envelopes)

		dropped, err = compactor.Compact()
		require.NoError(t, err)
		require.Zero(t, dropped)
	})

	t.Run("service lifecycle", func(t *testing.T) {
		compactor := NewCompactor(Open(t.TempDir()), &Config{
			Interval:     10 * time.Millisecond,
			TombstoneTTL: time.Hour,
		})
		require.NoError(t, compactor.Start())
		time.Sleep(50 * time.Millisecond)
		compactor.Stop()
	})

	t.Run("default config", func(t *testing.T) {
		compactor := NewCompactor(Open(t.TempDir()), nil)
		require.Equal(t, DefaultConfig(), compactor.config)
	})
}

func TestReplay(t *testing.T) {
	j := Open(t.TempDir())

	r1 := testReplica(1)
	wt1, startOps, err := worktree.Create(r1, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, j.Append(startOps...))

	env, err := wt1.CreateFile("notes.txt", epoch.FileTypeText)
	require.NoError(t, err)
	require.NoError(t, j.Append(env))

	buf1, err := wt1.OpenTextFile("notes.txt")
	require.NoError(t, err)
	env, err = buf1.Edit([]buffer.OffsetRange{{Start: 0, End: 0}}, "hello")
	require.NoError(t, err)
	require.NoError(t, j.Append(env))

	env, err = wt1.SetActiveLocation(buf1)
	require.NoError(t, err)
	require.NoError(t, j.Append(env))

	// Restart: the same replica rebuilds its tree from its own journal.
	envelopes, err := j.LoadAll()
	require.NoError(t, err)
	wt2, fixups, err := worktree.Create(r1, nil, envelopes, nil)
	require.NoError(t, err)
	require.Empty(t, fixups)

	buf2, err := wt2.OpenTextFile("notes.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", buf2.Text())
	require.Equal(t, wt1.EpochId(), wt2.EpochId())
	require.True(t, wt2.HasObserved(wt1.Version()))

	// Clocks must resume past the replayed history: operations created
	// after the restart get ids the journal has never seen.
	seen := make(map[envelopeKey]bool)
	for _, envelope := range envelopes {
		seen[keyOf(envelope)] = true
	}
	env, err = buf2.Edit([]buffer.OffsetRange{{Start: 5, End: 5}}, "!")
	require.NoError(t, err)
	require.False(t, seen[keyOf(env)])
	require.Equal(t, "hello!", buf2.Text())

	env, err = wt2.SetActiveLocation(buf2)
	require.NoError(t, err)
	require.False(t, seen[keyOf(env)])
	require.Equal(t, uint64(1), env.Location.LocalTimestamp.Seq)

	// A second replica joins from the same envelopes.
	wt3, _, err := worktree.Create(testReplica(2), nil, envelopes, nil)
	require.NoError(t, err)
	buf3, err := wt3.OpenTextFile("notes.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", buf3.Text())
	require.Equal(t, map[clock.ReplicaId]string{r1: "notes.txt"}, wt3.ReplicaLocations())
}
