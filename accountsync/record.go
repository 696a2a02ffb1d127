package accountsync

import (
	"time"

	"github.com/KOMKZ/go-yogan-accountsync/rpcclient"
	"github.com/KOMKZ/go-yogan-accountsync/snapshot"
)

func toRecord(address string, acc *rpcclient.Account, slot uint64, at time.Time) snapshot.Record {
	return snapshot.Record{
		Address:    address,
		Data:       acc.Data,
		Owner:      acc.Owner,
		Lamports:   acc.Lamports,
		Slot:       slot,
		Executable: acc.Executable,
		RentEpoch:  acc.RentEpoch,
		FetchedAt:  at,
	}
}

func fromRecord(rec snapshot.Record) *rpcclient.Account {
	return &rpcclient.Account{
		Data:       rec.Data,
		Lamports:   rec.Lamports,
		Owner:      rec.Owner,
		Executable: rec.Executable,
		RentEpoch:  rec.RentEpoch,
		Space:      uint64(len(rec.Data)),
	}
}
