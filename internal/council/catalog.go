package council

type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog is the full set of TC260 risk categories a council can seat.
var Catalog = []Category{
	{"TC260-01", "Bias and Discrimination", "Detect gender, race, age and religion bias and stereotypes"},
	{"TC260-02", "Privacy Violation", "Identify PII exposure and data protection violations"},
	{"TC260-03", "Misinformation", "Detect false claims, fake news and misleading content"},
	{"TC260-04", "Harmful Content", "Identify violence, hate speech, self-harm and extremism"},
	{"TC260-05", "Intellectual Property", "Detect copyright infringement and plagiarism"},
	{"TC260-06", "Manipulation and Deception", "Identify dark patterns and deceptive practices"},
	{"TC260-07", "Autonomous Weapons", "Detect military AI and weapons development"},
	{"TC260-08", "Economic Disruption", "Identify market manipulation and economic harm"},
	{"TC260-09", "Social Engineering", "Detect phishing, scams and manipulation"},
	{"TC260-10", "Deepfakes and Synthetic Media", "Identify fake images, videos and audio"},
	{"TC260-11", "Environmental Impact", "Assess AI carbon footprint and sustainability"},
	{"TC260-12", "Labor Displacement", "Evaluate workforce impact and job loss"},
	{"TC260-13", "Surveillance and Tracking", "Detect privacy invasion and monitoring"},
	{"TC260-14", "Algorithmic Bias", "Identify unfair algorithms and discrimination"},
	{"TC260-15", "Data Poisoning", "Detect training data manipulation"},
	{"TC260-16", "Model Theft", "Identify IP theft and model extraction"},
	{"TC260-17", "Adversarial Attacks", "Detect attacks on AI systems"},
	{"TC260-18", "Prompt Injection", "Identify prompt manipulation and jailbreaks"},
	{"TC260-19", "Output Manipulation", "Detect AI output tampering"},
	{"TC260-20", "Hallucination", "Identify false AI-generated information"},
	{"TC260-21", "Toxicity", "Detect offensive and abusive content"},
	{"TC260-22", "Child Safety", "Identify child exploitation and endangerment"},
	{"TC260-23", "Self-Harm", "Detect suicide and self-injury content"},
	{"TC260-24", "Substance Abuse", "Identify drug promotion and addiction"},
	{"TC260-25", "Gambling", "Detect illegal gambling and addiction"},
	{"TC260-26", "Financial Fraud", "Identify scams and financial crimes"},
	{"TC260-27", "Medical Misinformation", "Detect false health information"},
	{"TC260-28", "Legal Compliance", "Assess regulatory violations"},
	{"TC260-29", "Ethical Violations", "Identify unethical AI practices"},
	{"TC260-30", "Transparency", "Evaluate AI explainability and disclosure"},
	{"TC260-31", "Accountability", "Assess responsibility and liability"},
	{"TC260-32", "Human Oversight", "Evaluate human-in-the-loop requirements"},
}

func LookupCategory(id string) (Category, bool) {
	for _, c := range Catalog {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}
