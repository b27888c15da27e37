package history

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"
)

var (
	db *BoltDB
)

func TestMain(m *testing.M) {
	code, err := testMain(m)
	if err != nil {
		log.Println(err)
	}
	os.Exit(code)
}

func testMain(m *testing.M) (int, error) {
	dbpath := "./testdbbolt"
	err := os.MkdirAll(dbpath, 0750)
	if err != nil {
		return 1, err
	}
	defer os.RemoveAll(dbpath)

	db, err = InitBolt(dbpath)
	if err != nil {
		return 1, err
	}
	defer db.Close()

	return m.Run(), nil
}

func TestSaveAndList(t *testing.T) {
	records := make([]Record, 5)
	for i := range records {
		records[i] = Record{
			Payload:    fmt.Sprintf("000201%02d", i),
			Identifier: "66812345678",
			Kind:       "PHONE",
			Amount:     fmt.Sprintf("%d.00", 100+i),
			Reference:  fmt.Sprintf("ORDER%d", i),
			CreatedAt:  time.Now().Unix(),
		}
		id, err := db.Save(records[i])
		if err != nil {
			t.Fatalf("error saving record: %v", err)
		}
		records[i].Id = id
		if i > 0 && id != records[i-1].Id+1 {
			t.Fatalf("expected id %v but got %v", records[i-1].Id+1, id)
		}
	}

	latest, err := db.List(2)
	if err != nil {
		t.Fatalf("error listing records: %v", err)
	}
	expected := []Record{records[4], records[3]}
	if !reflect.DeepEqual(latest, expected) {
		t.Fatalf("expected records %+v but got %+v", expected, latest)
	}

	all, err := db.List(0)
	if err != nil {
		t.Fatalf("error listing records: %v", err)
	}
	if len(all) < len(records) {
		t.Fatalf("expected at least %v records but got %v", len(records), len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Id >= all[i-1].Id {
			t.Fatalf("records not listed newest first: %v before %v", all[i-1].Id, all[i].Id)
		}
	}
}

func TestOptionalFields(t *testing.T) {
	record := Record{
		Payload:    "00020101021129370016A000000677010111021312345678901235303764",
		Identifier: "1234567890123",
		Kind:       "NATIONAL_ID",
		CreatedAt:  time.Now().Unix(),
	}
	id, err := db.Save(record)
	if err != nil {
		t.Fatalf("error saving record: %v", err)
	}
	record.Id = id

	latest, err := db.List(1)
	if err != nil {
		t.Fatalf("error listing records: %v", err)
	}
	if len(latest) != 1 || latest[0] != record {
		t.Fatalf("expected record %+v but got %+v", record, latest)
	}
}

func TestConcurrentSaves(t *testing.T) {
	before, err := db.List(0)
	if err != nil {
		t.Fatalf("error listing records: %v", err)
	}

	num := 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[uint64]bool)
	for i := 0; i < num; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := db.Save(Record{Payload: fmt.Sprintf("payload%d", i), Kind: "PHONE"})
			if err != nil {
				t.Errorf("error saving record: %v", err)
				return
			}
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(ids) != num {
		t.Fatalf("expected %v distinct ids but got %v", num, len(ids))
	}
	after, err := db.List(0)
	if err != nil {
		t.Fatalf("error listing records: %v", err)
	}
	if len(after) != len(before)+num {
		t.Fatalf("expected %v records but got %v", len(before)+num, len(after))
	}
}
