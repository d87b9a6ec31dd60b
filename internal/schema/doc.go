// Package schema declares the entities cached for each deployment.
//
// # Overview
//
// Every entity describes its table statically: an ordered list of columns,
// each with a semantic type and a key flag. There is no reflection; entities
// convert themselves to and from a Row, and the Registry lists each table
// with a factory so the store can build entities generically.
//
// Column types:
//   - INTEGER - int64
//   - DOUBLE - float64, stored as REAL
//   - BOOLEAN - bool, stored as the text 'true' or 'false'
//   - TEXT - string; timestamps are UTC RFC 3339
//
// # Keys
//
// Deployments are keyed by a locally assigned id. Every other table is
// scoped by deployment_id and keyed (deployment_id, id), except post_values,
// keyed (deployment_id, post_id, key), and filters, keyed (deployment_id).
//
// # Joins
//
// Denormalized relations (Post.Values, Post.User, Form.Stages, ...) are never
// stored. They are filled by the Load* helpers after the related rows were
// read, and values are always ordered by cardinality.
//
// # Drafts
//
// DraftFile is the JSON document a UI drops into the outbox directory to
// queue a post for submission; see ReadDraftFile and WriteDraftFile.
//
//	draft := &schema.DraftFile{
//	    Deployment: 1,
//	    FormID:     2,
//	    Title:      "Flooded road",
//	    Values:     map[string]string{"location": "-1.28,36.82"},
//	}
//	err := schema.WriteDraftFile("outbox", draft)
package schema
