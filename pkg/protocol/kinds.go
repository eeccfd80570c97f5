package protocol

// Event kinds the git-collaboration client under test exchanges.
// Addressable kinds (30000-39999) are referenced by coordinate, the
// rest by event id.
const (
	// KindProfile is the author's profile metadata.
	KindProfile = 0
	// KindFollows is the author's follow list.
	KindFollows = 3

	// KindPatch carries a git patch against a repository.
	KindPatch = 1617
	// KindIssue opens an issue against a repository.
	KindIssue = 1621

	// Status kinds reference a patch or issue via an "e" tag and move
	// it through its lifecycle.
	KindStatusOpen    = 1630
	KindStatusApplied = 1631
	KindStatusClosed  = 1632
	KindStatusDraft   = 1633

	// KindLabel attaches a namespaced annotation ("L" namespace, "l"
	// value) to the event its "e" tag points at.
	KindLabel = 1985

	// KindRepoAnnouncement declares a repository; its d-tag identifier
	// plus kind and author form the repository's address.
	KindRepoAnnouncement = 30617
	// KindRepoState publishes the repository's current refs.
	KindRepoState = 30618
)

// StatusKinds lists the status lifecycle kinds in enumeration order.
var StatusKinds = []int{KindStatusOpen, KindStatusApplied, KindStatusClosed, KindStatusDraft}
