package model

// School is a school record as listed under a subdomain. Subdomain is not
// part of the remote payload; the client fills it from the request scope.
type School struct {
	ID          int     `json:"id"`
	Subdomain   string  `json:"subdomain"`
	SchoolType  string  `json:"school_type"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Town        string  `json:"town"`
	PostCode    string  `json:"post_code"`
	Country     string  `json:"country"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Twitter     string  `json:"twitter"`
	Website     string  `json:"website"`
}

// Employee is a member of staff at a school.
type Employee struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Forename string `json:"forename"`
	Surname  string `json:"surname"`
}

// DisplayName renders the employee the way pupils address them, e.g.
// "Mrs J Smith".
func (e Employee) DisplayName() string {
	name := e.Surname
	if e.Forename != "" {
		name = string([]rune(e.Forename)[:1]) + " " + name
	}
	if e.Title != "" {
		name = e.Title + " " + name
	}
	return name
}

type Subject struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Year struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Class is a remote class group. YearName refers to a Year by name.
type Class struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	YearName string `json:"year_name"`
}

// Entry is a single homework/calendar item.
//
// ClassName is the remote name of the owning class and is what entries are
// reconciled on. SchoolID is zero when the remote payload omits it.
// Subdomain is the scope the entry was fetched under.
type Entry struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	ClassName   string `json:"class_name"`
	YearName    string `json:"year_name"`
	SubjectName string `json:"subject_name"`
	EmployeeID  int    `json:"employee_id"`
	SchoolID    int    `json:"school_id,omitempty"`
	Subdomain   string `json:"subdomain"`
	Issued      string `json:"issued"`
	Due         string `json:"due"`
}
