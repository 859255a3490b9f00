package cratesync

// catalog search results: one cursor-paginated list per query.
// owned by the view that created it, like a feed. a new query means a
// new view
type SearchView struct {
	api   *CrateDigApi
	query string

	list *PaginatedList[*Vinyl]
}

func NewSearchViewWithDefaults(api *CrateDigApi, query string) *SearchView {
	return NewSearchView(api, query, DefaultPaginatedListSettings())
}

func NewSearchView(api *CrateDigApi, query string, listSettings *PaginatedListSettings) *SearchView {
	return &SearchView{
		api:   api,
		query: query,
		list:  NewPaginatedList[*Vinyl](listSettings),
	}
}

func (self *SearchView) Query() string {
	return self.query
}

func (self *SearchView) List() *PaginatedList[*Vinyl] {
	return self.list
}

func (self *SearchView) fetchPage(cursor Cursor, pageSize int) ([]*Vinyl, error) {
	result, err := self.api.SearchVinylsSync(self.query, cursor, pageSize)
	if err != nil {
		return nil, err
	}
	return result.Vinyls, nil
}

func (self *SearchView) LoadInitial() error {
	return self.list.LoadInitial(self.fetchPage)
}

func (self *SearchView) LoadMore() error {
	return self.list.LoadMore(self.fetchPage)
}

func (self *SearchView) Refresh() error {
	return self.list.Refresh(self.fetchPage)
}
