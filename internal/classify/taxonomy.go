package classify

// Topic defines one taxonomy entry: a weighted keyword set plus URL-path
// heuristics. The taxonomy is fixed at construction so classification stays
// deterministic and free of network state.
type Topic struct {
	Name        string
	Keywords    []string
	URLPatterns []string
}

// DefaultTaxonomy returns the built-in topic taxonomy.
func DefaultTaxonomy() []Topic {
	return []Topic{
		{
			Name: "technology",
			Keywords: []string{
				"software", "technology", "computer", "programming", "code", "development",
				"api", "database", "server", "cloud", "ai", "artificial intelligence",
				"machine learning", "algorithm", "data", "analytics", "digital",
			},
			URLPatterns: []string{"/tech", "/software", "/api", "/docs", "github.com", "stackoverflow.com"},
		},
		{
			Name: "business",
			Keywords: []string{
				"business", "company", "corporate", "enterprise", "startup", "entrepreneur",
				"marketing", "sales", "revenue", "profit", "investment", "finance",
				"strategy", "management", "leadership", "market", "customer",
			},
			URLPatterns: []string{"/business", "/company", "/corporate", "/enterprise"},
		},
		{
			Name: "ecommerce",
			Keywords: []string{
				"shop", "buy", "purchase", "product", "cart", "checkout", "payment",
				"shipping", "delivery", "order", "price", "discount", "sale",
				"retail", "store", "marketplace", "amazon", "ebay",
			},
			URLPatterns: []string{"/shop", "/buy", "/product", "/cart", "/checkout", "amazon.com", "ebay.com"},
		},
		{
			Name: "news",
			Keywords: []string{
				"news", "breaking", "report", "journalist", "article", "story",
				"update", "latest", "headline", "media", "press", "newspaper",
				"magazine", "broadcast", "coverage",
			},
			URLPatterns: []string{"/news", "/article", "/story", "cnn.com", "bbc.com", "reuters.com"},
		},
		{
			Name: "health",
			Keywords: []string{
				"health", "medical", "doctor", "hospital", "medicine", "treatment",
				"patient", "disease", "symptoms", "diagnosis", "therapy", "wellness",
				"fitness", "nutrition", "diet", "exercise",
			},
			URLPatterns: []string{"/health", "/medical", "/doctor", "/hospital"},
		},
		{
			Name: "education",
			Keywords: []string{
				"education", "school", "university", "college", "student", "teacher",
				"course", "learning", "study", "academic", "research", "science",
				"knowledge", "training", "tutorial", "lesson",
			},
			URLPatterns: []string{"/education", "/course", "/learn", "/tutorial"},
		},
		{
			Name: "entertainment",
			Keywords: []string{
				"movie", "film", "music", "game", "entertainment", "celebrity",
				"actor", "actress", "director", "album", "song", "concert",
				"theater", "show", "television", "streaming",
			},
			URLPatterns: []string{"/entertainment", "/movie", "/music", "/game"},
		},
		{
			Name: "sports",
			Keywords: []string{
				"sports", "football", "basketball", "baseball", "soccer", "tennis",
				"golf", "hockey", "athlete", "team", "game", "match", "championship",
				"league", "tournament", "olympics",
			},
			URLPatterns: []string{"/sports", "/football", "/basketball", "espn.com"},
		},
		{
			Name: "travel",
			Keywords: []string{
				"travel", "vacation", "hotel", "flight", "destination", "tourism",
				"trip", "journey", "adventure", "booking", "resort", "restaurant",
				"attractions", "sightseeing", "guide",
			},
			URLPatterns: []string{"/travel", "/hotel", "/flight", "/vacation", "booking.com"},
		},
		{
			Name: "food",
			Keywords: []string{
				"food", "recipe", "cooking", "restaurant", "cuisine", "dish",
				"meal", "ingredients", "chef", "kitchen", "dining", "menu",
				"taste", "flavor", "nutrition", "diet",
			},
			URLPatterns: []string{"/food", "/recipe", "/restaurant", "/cooking"},
		},
		{
			Name: "lifestyle",
			Keywords: []string{
				"lifestyle", "fashion", "beauty", "home", "family", "relationship",
				"parenting", "wedding", "personal", "advice", "tips", "guide",
				"culture", "society", "community",
			},
		},
		{
			Name: "finance",
			Keywords: []string{
				"finance", "money", "investment", "stock", "market", "trading",
				"banking", "loan", "credit", "debt", "insurance", "retirement",
				"savings", "budget", "economic", "currency",
			},
		},
	}
}
