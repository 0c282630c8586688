package scraper

// X.com page selectors and routes
// These are isolated here because X changes their DOM and routes frequently
// Update these when scraping breaks

const (
	// Page selectors
	PrimaryColumn = `[data-testid="primaryColumn"]`
	TweetArticle  = `article[data-testid="tweet"]`
)

const (
	baseURL = "https://x.com"

	// graphQLPath marks the web client's API calls whose bodies carry tweets.
	graphQLPath = "/i/api/graphql/"

	// loginPath is where X redirects requests without a session.
	loginPath = "/i/flow/login"
)

// Common wait conditions
const (
	WaitForSearch = PrimaryColumn
	WaitForStatus = TweetArticle
)
