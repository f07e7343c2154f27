package catchup

import (
	"expvar"
	"fmt"
)

// Metrics holds the three monotone counters of a catch-up apply run.
// They are side-effect only and never influence control flow.
type Metrics struct {
	// BucketApplyStart counts applicator creations (one per level and
	// per snap/curr replacement started).
	BucketApplyStart *expvar.Int
	// BucketApplySuccess counts committed bucket replacements.
	BucketApplySuccess *expvar.Int
	// BucketApplyFailure counts failure-retry and failure-raise
	// transitions of the whole run.
	BucketApplyFailure *expvar.Int
}

// NewMetrics publishes (or re-publishes and resets) the catch-up apply
// counters.
func NewMetrics() *Metrics {
	return &Metrics{
		BucketApplyStart:   publishExpvarInt("stellar.catchup.bucket_apply.started"),
		BucketApplySuccess: publishExpvarInt("stellar.catchup.bucket_apply.succeeded"),
		BucketApplyFailure: publishExpvarInt("stellar.catchup.bucket_apply.failed"),
	}
}

// publishExpvarInt safely publishes an expvar.Int. If the name already
// exists as an *expvar.Int it is reset and reused; expvar forbids
// re-publishing a name, which would otherwise panic in tests that
// build multiple engines.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}
