package extract

// Closed-set curated dictionaries driving rule-based entity/verb
// classification. Kept as package-level maps so extraction is
// byte-stable for a given input.

var techKeywords = stringSet(
	"go", "golang", "python", "rust", "typescript", "javascript", "java",
	"kubernetes", "docker", "postgres", "postgresql", "redis", "kafka",
	"grpc", "graphql", "react", "vue", "linux", "android", "ios",
	"tensorflow", "pytorch", "cuda", "ros", "ros2", "mqtt", "lidar",
	"slam", "opencv", "onnx", "embedding", "firmware", "api", "sdk",
)

var orgIndicators = stringSet(
	"inc", "inc.", "corp", "corp.", "llc", "ltd", "ltd.", "gmbh", "co.",
	"labs", "foundation", "association", "university", "institute",
)

var locationWords = stringSet(
	"seattle", "london", "tokyo", "berlin", "paris", "york", "francisco",
	"beijing", "mumbai", "toronto", "sydney", "dubai", "austin", "boston",
	"warehouse", "lab", "factory", "basement", "rooftop", "dock",
)

var personCuePrefixes = stringSet("mr.", "mr", "mrs.", "mrs", "ms.", "ms", "dr.", "dr", "prof.", "prof")
var personCueVerbsAfter = stringSet("said", "asked", "replied", "reported", "told", "shouted")

var determiners = stringSet("the", "a", "an")

// VerbClass is the closed set of arousal buckets a verb can fall into.
type VerbClass string

const (
	VerbMemoryForming VerbClass = "memory_forming"
	VerbAction        VerbClass = "action"
	VerbStructural    VerbClass = "structural"
)

// Arousal returns the fixed arousal constant for a verb class.
func (c VerbClass) Arousal() float64 {
	switch c {
	case VerbMemoryForming:
		return 0.30
	case VerbAction:
		return 0.10
	default:
		return 0.00
	}
}

var memoryFormingVerbs = stringSet(
	"killed", "loved", "hated", "feared", "crashed", "exploded", "discovered",
	"solved", "completed", "fixed", "broke", "migrated", "upgraded",
	"deprecated", "won", "lost", "failed", "succeeded", "died", "survived",
)

var actionVerbs = stringSet(
	"runs", "makes", "builds", "sends", "reads", "writes", "run", "make",
	"build", "send", "read", "write", "moves", "moved", "drives", "drove",
	"scans", "scanned", "collects", "collected", "uploads", "uploaded",
)

var structuralVerbs = stringSet(
	"is", "are", "was", "were", "been", "has", "have", "had", "contains",
	"includes", "seems", "appears", "becomes", "be", "being",
)

func stringSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
