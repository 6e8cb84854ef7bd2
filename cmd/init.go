package cmd

var (
	configPath   string
	naming       string
	providerName string

	account string

	novel   string
	keyword string
	page    int

	chapterNumbers string
	first          bool
	latest         bool

	archive bool
	pdf     bool
)

func initRootFlags() {
	rootCmd.PersistentFlags().StringVarP(
		&configPath,
		"config",
		"c",
		"",
		"specifies the path to your config file",
	)
}

func initLoginFlags() {
	loginCmd.Flags().StringVarP(
		&providerName,
		"provider",
		"p",
		"",
		"specifies the provider you want to log in to",
	)
	loginCmd.Flags().StringVarP(
		&account,
		"account",
		"a",
		"",
		"specifies the account name, mail address or phone number (falls back to the configured account)",
	)

	_ = loginCmd.MarkFlagRequired("provider")
}

func initLogoutFlags() {
	logoutCmd.Flags().StringVarP(
		&providerName,
		"provider",
		"p",
		"",
		"specifies the provider you want to log out of",
	)

	_ = logoutCmd.MarkFlagRequired("provider")
}

func initCategoriesFlags() {
	categoriesCmd.Flags().StringVarP(
		&providerName,
		"provider",
		"p",
		"",
		"specifies the provider you want to list categories for",
	)

	_ = categoriesCmd.MarkFlagRequired("provider")
}

func initSearchFlags() {
	searchCmd.Flags().StringVarP(
		&providerName,
		"provider",
		"p",
		"",
		"specifies the provider you want to search on",
	)
	searchCmd.Flags().IntVarP(
		&page,
		"page",
		"P",
		0,
		"specifies the result page you want to see",
	)

	_ = searchCmd.MarkFlagRequired("provider")
}

func initInfoFlags() {
	infoCmd.Flags().StringVarP(
		&providerName,
		"provider",
		"p",
		"",
		"specifies the provider the novel is on",
	)
	infoCmd.Flags().StringVarP(
		&novel,
		"novel",
		"m",
		"",
		"specifies the id of the novel",
	)

	_ = infoCmd.MarkFlagRequired("provider")
	_ = infoCmd.MarkFlagRequired("novel")
}

func initDownloadFlags() {
	downloadCmd.Flags().StringVarP(
		&providerName,
		"provider",
		"p",
		"",
		"specifies the provider you want to download from",
	)
	downloadCmd.Flags().StringVarP(
		&novel,
		"novel",
		"m",
		"",
		"specifies the id of the novel you want to download",
	)
	downloadCmd.Flags().StringVarP(
		&naming,
		"naming",
		"n",
		"",
		"specifies the naming template you want to use for naming chapters",
	)

	downloadCmd.Flags().StringVarP(
		&chapterNumbers,
		"chapters",
		"C",
		"",
		"specifies the chapter numbers you want to download",
	)
	downloadCmd.Flags().BoolVarP(
		&first,
		"first",
		"1",
		false,
		"download the first chapter",
	)
	downloadCmd.Flags().BoolVarP(
		&latest,
		"latest",
		"L",
		false,
		"download the latest chapter",
	)

	downloadCmd.Flags().BoolVarP(
		&archive,
		"archive",
		"z",
		false,
		"bundle the downloaded novel into a zip archive",
	)
	downloadCmd.Flags().BoolVar(
		&pdf,
		"pdf",
		false,
		"collect the downloaded illustrations into a pdf",
	)

	downloadCmd.MarkFlagsMutuallyExclusive("first", "chapters")
	downloadCmd.MarkFlagsMutuallyExclusive("latest", "chapters")
	downloadCmd.MarkFlagsMutuallyExclusive("first", "latest")

	_ = downloadCmd.MarkFlagRequired("provider")
	_ = downloadCmd.MarkFlagRequired("novel")
}
