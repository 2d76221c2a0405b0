package memory

import (
	"testing"

	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/db/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) db.Store {
		return CreateStore()
	})
}
