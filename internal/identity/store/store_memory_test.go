package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"custodia/internal/identity/models"
	id "custodia/pkg/domain"
)

func newDoc(did id.DID, authKey []byte) *models.Document {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return &models.Document{
		ID: did,
		VerificationMethods: []models.VerificationMethod{{
			ID:        did.String() + "#keys-1",
			Type:      "Ed25519VerificationKey2020",
			Purpose:   models.PurposeAuthentication,
			PublicKey: authKey,
			Created:   now,
		}},
		Created: now,
		Updated: now,
	}
}

func TestFindByDID_CachedResolveSeesRotation(t *testing.T) {
	ctx := context.Background()
	st := New()
	did := id.NewDID()
	require.NoError(t, st.Save(ctx, newDoc(did, []byte("old-key"))))

	// Prime the cache, then rotate.
	_, err := st.FindByDID(ctx, did)
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, newDoc(did, []byte("new-key"))))

	doc, err := st.FindByDID(ctx, did)
	require.NoError(t, err)
	key, _, err := doc.AuthenticationKey()
	require.NoError(t, err)
	require.Equal(t, []byte("new-key"), key)
}

func TestFindByDID_RotationVisibleUnderConcurrentResolves(t *testing.T) {
	ctx := context.Background()
	st := New()
	did := id.NewDID()
	require.NoError(t, st.Save(ctx, newDoc(did, []byte("old-key"))))

	// Resolvers racing the rotation must not leave the pre-rotation key
	// pinned in the cache once the update has completed.
	const resolvers = 16
	var wg sync.WaitGroup
	for range resolvers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = st.FindByDID(ctx, did)
		}()
	}
	require.NoError(t, st.Update(ctx, newDoc(did, []byte("new-key"))))
	wg.Wait()

	doc, err := st.FindByDID(ctx, did)
	require.NoError(t, err)
	key, _, err := doc.AuthenticationKey()
	require.NoError(t, err)
	require.Equal(t, []byte("new-key"), key)
}
