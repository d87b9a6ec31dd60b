// Package sync decides between the local cache and the network and joins
// related entities into the views the UI renders.
//
// Overview
//
// Every collection read takes FetchOptions. With Cache or Offline set the
// local store is read first; a cache hit is returned as is. A miss falls
// through to the remote gateway unless Offline is set, in which case the
// (possibly empty) cached rows are returned without touching the network.
// After a live fetch the rows are read back from the store, so callers see
// the same shape whether the data came from the cache or the network.
//
//	caller ──► Syncer ──► repo (cache hit) ──► caller
//	              │
//	              └─► remote.Client ──► deployment API
//	                        │
//	                        └─► repo (write-through) ──► Syncer ──► caller
//
// Joins
//
// PostsWithValues fetches posts, images, forms, users and attributes
// concurrently and attaches each value's attribute, each upload's image and
// each post's author, form and thumbnail. FormsWithAttributes fetches forms,
// stages and attributes and links them, persisting the form id of any
// attribute that only knew its stage. A failure of any member fails the
// whole join.
//
// Pending posts
//
// Posts created without a connection are stored with a negative id below
// every cached id and the pending flag set. PushPending submits them, media
// first, and replaces the local rows with the server copy.
//
// Usage
//
//	st, err := store.Open(path)
//	if err != nil {
//	    return err
//	}
//	r := repo.New(st, logger)
//	sessions := session.NewManager(remote.NewOAuth(), session.NewKeyringStore(""), logger)
//	client := remote.New(r, sessions)
//	syncer := sync.New(r, client, sessions, &sync.Config{Logger: logger})
//
//	posts, err := syncer.PostsWithValues(ctx, d, filter, sync.FetchOptions{Cache: true, Limit: 20})
package sync
