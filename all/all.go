// Package all imports all index accessor implementations.
//
// Import this package for its side effects to register both index kinds:
//
//	import (
//		releaseplz "github.com/seqre-contrib/release-plz"
//		_ "github.com/seqre-contrib/release-plz/all"
//	)
//
//	// Now both kinds are available
//	kinds := releaseplz.SupportedKinds()
//	// ["git", "sparse"]
package all

import (
	_ "github.com/seqre-contrib/release-plz/internal/gitindex"
	_ "github.com/seqre-contrib/release-plz/internal/sparse"
)
