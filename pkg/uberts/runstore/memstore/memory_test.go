package memstore

import (
	"testing"

	"github.com/cognicore/uberts/pkg/uberts/runstore"
	"github.com/cognicore/uberts/pkg/uberts/runstore/storetest"
)

func TestMemstoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) runstore.Store { return New() })
}
